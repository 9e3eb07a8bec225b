package cache

import (
	"github.com/opencontainers/go-digest"
)

// BlobStore 负责管理磁盘上的正文文件。磁盘布局遵循：
//
//	<CacheRoot>/<host+path>/<sha256-hex>    # 实际正文
//
// 文件名即内容校验和，既是寻址方式也是完整性凭证。
type BlobStore interface {
	// Store 将 data 写入 URL 派生目录下以校验和命名的文件，返回相对路径。
	// 写入通过临时文件 + rename 完成，读者不会看到半写入的文件。
	Store(url string, data []byte) (string, error)

	// Read 读取相对路径对应的完整正文。不存在时返回 ErrNotFound。
	Read(relativePath string) ([]byte, error)

	// Stat 返回正文文件大小。不存在（或是目录）时返回 ErrNotFound。
	Stat(relativePath string) (int64, error)

	// Remove 删除正文文件；文件不存在时视为成功。
	Remove(relativePath string) error
}

// Checksum 返回 data 的 SHA-256 十六进制摘要，用作正文文件名。
func Checksum(data []byte) string {
	return digest.Canonical.FromBytes(data).Encoded()
}

// checksumMatches 校验 data 与文件名记录的摘要是否一致。
func checksumMatches(data []byte, fileName string) bool {
	expected := digest.NewDigestFromEncoded(digest.Canonical, fileName)
	if expected.Validate() != nil {
		return false
	}
	verifier := expected.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return false
	}
	return verifier.Verified()
}
