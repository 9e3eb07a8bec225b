package cache

import (
	"path"
	"time"
)

// DefaultTTL 是条目在被视为过期前可被复用的时长。
const DefaultTTL = 72 * time.Hour

// staleReason 描述条目为何不能再被复用；空字符串表示新鲜。
type staleReason string

const (
	reasonFresh          staleReason = ""
	reasonExpired        staleReason = "expired"
	reasonMissingFile    staleReason = "missing_file"
	reasonLengthMismatch staleReason = "file_length"
	reasonChecksum       staleReason = "file_checksum"
	reasonReadFailed     staleReason = "read_failed"
	reasonDropped        staleReason = "dropped"
)

// freshnessPolicy 注入 TTL 与时钟，集中判定条目是否仍可复用。
type freshnessPolicy struct {
	ttl time.Duration
	now func() time.Time
}

// expired 判断条目是否已超过 TTL：仅当 now - created_at < ttl 时视为未过期。
func (p freshnessPolicy) expired(entry Entry) bool {
	return p.now().UTC().Sub(entry.CreatedAt) >= p.ttl
}

// checkLength 对比索引记录的长度与磁盘文件大小。
func checkLength(entry Entry, size int64) staleReason {
	if size != entry.Length {
		return reasonLengthMismatch
	}
	return reasonFresh
}

// checkContent 对比内容长度与摘要；verifyChecksum 为 false 时只校验长度。
func checkContent(entry Entry, data []byte, verifyChecksum bool) staleReason {
	if reason := checkLength(entry, int64(len(data))); reason != reasonFresh {
		return reason
	}
	if verifyChecksum && !checksumMatches(data, path.Base(entry.RelativePath)) {
		return reasonChecksum
	}
	return reasonFresh
}

// inconsistent 表示该原因属于元数据与磁盘不一致（而非单纯过期）。
func (r staleReason) inconsistent() bool {
	switch r {
	case reasonMissingFile, reasonLengthMismatch, reasonChecksum:
		return true
	}
	return false
}
