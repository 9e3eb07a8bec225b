package cache

import "errors"

var (
	// ErrNotFound 表示索引或磁盘上不存在对应条目。
	ErrNotFound = errors.New("cache entry not found")
	// ErrDuplicateKey 表示 URL 已有索引记录，重新写入前需先 Drop。
	ErrDuplicateKey = errors.New("cache entry already exists")
	// ErrInvalidURL 表示 URL 未通过安全校验，不能作为缓存键或路径。
	ErrInvalidURL = errors.New("url is not valid and safe for caching")
	// ErrCacheInconsistency 表示索引元数据与磁盘实际内容不一致。
	ErrCacheInconsistency = errors.New("cache entry inconsistent with disk")
	// ErrStorageFailure 包装读写索引或正文文件时的 I/O 错误。
	ErrStorageFailure = errors.New("cache storage failure")
	// ErrNotADirectory 表示 URL 派生的目录路径上存在同名普通文件。
	ErrNotADirectory = errors.New("path component is not a directory")
	// ErrCacheRootMissing 表示缓存根目录不存在或不是目录。
	ErrCacheRootMissing = errors.New("cache root directory must exist")
	// ErrInvalidTableName 表示索引表名不是合法标识符。
	ErrInvalidTableName = errors.New("invalid index table name")
)
