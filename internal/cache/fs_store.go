package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// NewBlobStore 以 root 为根目录构建正文存储。root 之外的路径对存储不可见。
func NewBlobStore(root afero.Fs) BlobStore {
	return &fsBlobStore{fs: root}
}

// NewOsBlobStore 在真实文件系统的 dir 目录下构建正文存储。
func NewOsBlobStore(dir string) BlobStore {
	return NewBlobStore(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// fsBlobStore 的所有写入都在持有 Token 的临界区内发生，自身不加锁。
type fsBlobStore struct {
	fs afero.Fs
}

func (s *fsBlobStore) Store(url string, data []byte) (string, error) {
	folder := folderOf(url)
	if folder == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	if err := s.ensureDir(folder); err != nil {
		return "", err
	}

	// 使用 "/" 拼接，相对路径的最后一段始终是校验和。
	relativePath := folder + "/" + Checksum(data)

	tempFile, err := afero.TempFile(s.fs, folder, ".blob-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tempName)
		return "", err
	}

	if err := s.fs.Rename(tempName, relativePath); err != nil {
		_ = s.fs.Remove(tempName)
		return "", err
	}
	return relativePath, nil
}

func (s *fsBlobStore) Read(relativePath string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, relativePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fsBlobStore) Stat(relativePath string) (int64, error) {
	info, err := s.fs.Stat(relativePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, ErrNotFound
	}
	return info.Size(), nil
}

func (s *fsBlobStore) Remove(relativePath string) error {
	if err := s.fs.Remove(relativePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ensureDir 逐级创建目录；任一路径段已作为普通文件存在时返回 ErrNotADirectory。
func (s *fsBlobStore) ensureDir(folder string) error {
	current := ""
	for _, segment := range strings.Split(path.Clean(folder), "/") {
		if segment == "" {
			continue
		}
		current = path.Join(current, segment)
		info, err := s.fs.Stat(current)
		switch {
		case err == nil && !info.IsDir():
			return fmt.Errorf("%w: %s", ErrNotADirectory, current)
		case err == nil:
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
		if err := s.fs.Mkdir(current, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}
