package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultIndexFile 是缓存根目录下索引数据库的默认文件名。
	DefaultIndexFile = "cache.sqlite3"
	// DefaultIndexTable 是索引表的默认名称。
	DefaultIndexTable = "cache"
)

// Options 控制 Manager 的构建参数，零值字段使用默认值。
type Options struct {
	Root       string
	IndexFile  string
	IndexTable string
	TTL        time.Duration
	Logger     logrus.FieldLogger
	// Now 默认为 time.Now，测试可注入固定时钟。
	Now func() time.Time
	// Blobs 默认为 Root 下的真实文件系统存储。
	Blobs BlobStore
}

// Manager 组合 Index 与 BlobStore，提供带校验与惰性淘汰的 Get/Put/Drop。
// 它独占索引连接与根目录下的文件树。
type Manager struct {
	root   string
	index  *Index
	blobs  BlobStore
	policy freshnessPolicy
	logger logrus.FieldLogger
}

// NewManager 在已存在的 opts.Root 目录下打开缓存。
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	info, err := os.Stat(opts.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrCacheRootMissing, opts.Root)
	}

	if opts.IndexFile == "" {
		opts.IndexFile = DefaultIndexFile
	}
	if opts.IndexTable == "" {
		opts.IndexTable = DefaultIndexTable
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Blobs == nil {
		opts.Blobs = NewOsBlobStore(opts.Root)
	}

	index, err := OpenIndex(ctx, filepath.Join(opts.Root, opts.IndexFile), opts.IndexTable)
	if err != nil {
		return nil, err
	}

	opts.Logger.WithFields(logrus.Fields{
		"action": "cache_init",
		"root":   opts.Root,
		"index":  opts.IndexFile,
		"table":  opts.IndexTable,
		"ttl":    opts.TTL.String(),
	}).Info("缓存初始化完成")

	return &Manager{
		root:   opts.Root,
		index:  index,
		blobs:  opts.Blobs,
		policy: freshnessPolicy{ttl: opts.TTL, now: opts.Now},
		logger: opts.Logger,
	}, nil
}

// Root 返回缓存根目录。
func (m *Manager) Root() string {
	return m.root
}

// Close 释放索引连接。
func (m *Manager) Close() error {
	return m.index.Close()
}

// Get 返回 url 的缓存内容。依次检查 TTL、文件存在性、长度以及（可选）校验和，
// 首个不满足的条件会触发淘汰（删除索引记录与文件）并按未命中返回。
func (m *Manager) Get(ctx context.Context, url string, verifyChecksum bool) ([]byte, bool) {
	entry, err := m.index.Lookup(ctx, url)
	if errors.Is(err, ErrNotFound) {
		m.logger.WithFields(logrus.Fields{"action": "cache_get", "url": url}).Debug("缓存未命中")
		return nil, false
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "url": url}).Warn("读取缓存索引失败")
		m.dropRow(ctx, url)
		return nil, false
	}

	if m.policy.expired(entry) {
		m.evict(ctx, entry, reasonExpired)
		return nil, false
	}

	size, err := m.blobs.Stat(entry.RelativePath)
	switch {
	case errors.Is(err, ErrNotFound):
		m.evict(ctx, entry, reasonMissingFile)
		return nil, false
	case err != nil:
		m.readFailed(ctx, entry, err)
		return nil, false
	}
	if reason := checkLength(entry, size); reason != reasonFresh {
		m.evict(ctx, entry, reason)
		return nil, false
	}

	data, err := m.blobs.Read(entry.RelativePath)
	switch {
	case errors.Is(err, ErrNotFound):
		m.evict(ctx, entry, reasonMissingFile)
		return nil, false
	case err != nil:
		m.readFailed(ctx, entry, err)
		return nil, false
	}
	if reason := checkContent(entry, data, verifyChecksum); reason != reasonFresh {
		m.evict(ctx, entry, reason)
		return nil, false
	}

	m.logger.WithFields(logrus.Fields{
		"action":        "cache_get",
		"url":           url,
		"relative_path": entry.RelativePath,
		"size":          entry.Length,
	}).Debug("缓存命中")
	return data, true
}

// Put 缓存 url 的内容，返回是否真正写入。空数据或不安全的 URL 会被记录并
// 忽略（返回 false, nil）；url 已有记录时返回 ErrDuplicateKey，调用方需先 Drop。
func (m *Manager) Put(ctx context.Context, url string, data []byte) (bool, error) {
	fields := logrus.Fields{"action": "cache_put", "url": url}
	if len(data) == 0 {
		m.logger.WithFields(fields).Error("拒绝缓存空数据")
		return false, nil
	}
	if !IsURLValidAndSafe(url) {
		m.logger.WithError(ErrInvalidURL).WithFields(fields).Warn("拒绝缓存不安全的 URL")
		return false, nil
	}

	_, err := m.index.Lookup(ctx, url)
	switch {
	case err == nil:
		return false, fmt.Errorf("%w: %s", ErrDuplicateKey, url)
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	relativePath, err := m.blobs.Store(url, data)
	if err != nil {
		return false, fmt.Errorf("%w: store blob: %w", ErrStorageFailure, err)
	}

	entry, err := m.index.Insert(ctx, url, m.policy.now(), relativePath, int64(len(data)))
	if err != nil {
		if rmErr := m.blobs.Remove(relativePath); rmErr != nil {
			m.logger.WithError(rmErr).WithFields(fields).Warn("清理孤立正文失败")
		}
		return false, err
	}

	fields["relative_path"] = entry.RelativePath
	fields["size"] = entry.Length
	m.logger.WithFields(fields).Info("已缓存")
	return true, nil
}

// Drop 无论条目是否新鲜都将其淘汰；条目不存在时不做任何事。
func (m *Manager) Drop(ctx context.Context, url string) {
	entry, err := m.index.Lookup(ctx, url)
	if errors.Is(err, ErrNotFound) {
		m.logger.WithFields(logrus.Fields{"action": "cache_drop", "url": url}).Debug("无需淘汰")
		return
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_drop", "url": url}).Warn("读取缓存索引失败")
		m.dropRow(ctx, url)
		return
	}
	m.evict(ctx, entry, reasonDropped)
}

// Entries 返回索引中的全部记录（不做新鲜度校验）。
func (m *Manager) Entries(ctx context.Context) ([]Entry, error) {
	return m.index.List(ctx)
}

// evict 删除索引记录及其正文文件。
func (m *Manager) evict(ctx context.Context, entry Entry, reason staleReason) {
	fields := logrus.Fields{
		"action":        "cache_evict",
		"url":           entry.URL,
		"relative_path": entry.RelativePath,
		"reason":        string(reason),
	}
	if reason.inconsistent() {
		m.logger.WithError(ErrCacheInconsistency).WithFields(fields).Warn("缓存不一致，淘汰条目")
	} else {
		m.logger.WithFields(fields).Info("淘汰缓存条目")
	}

	m.dropRow(ctx, entry.URL)
	if err := m.blobs.Remove(entry.RelativePath); err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("删除正文文件失败")
	}
}

// readFailed 处理正文读取的 I/O 错误：按未命中处理，只删除索引记录。
func (m *Manager) readFailed(ctx context.Context, entry Entry, err error) {
	m.logger.WithError(fmt.Errorf("%w: %v", ErrStorageFailure, err)).WithFields(logrus.Fields{
		"action":        "cache_get",
		"url":           entry.URL,
		"relative_path": entry.RelativePath,
		"reason":        string(reasonReadFailed),
	}).Warn("读取正文失败")
	m.dropRow(ctx, entry.URL)
}

func (m *Manager) dropRow(ctx context.Context, url string) {
	if err := m.index.Delete(ctx, url); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_evict", "url": url}).Error("删除索引记录失败")
	}
}
