package fetch

import "errors"

var (
	// ErrFetchFailure 表示传输层错误在重试预算耗尽后仍未恢复，worker 将终止。
	ErrFetchFailure = errors.New("fetch failed after retries")
	// ErrUpstreamRejected 表示上游返回了非 200 状态，任务直接丢弃。
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrInvalidJob 表示任务本身无法构造成合法请求（如非法请求头），任务直接丢弃。
	ErrInvalidJob = errors.New("invalid job")
	// ErrNotStored 表示缓存拒绝写入（空正文或不安全的 URL）。
	ErrNotStored = errors.New("cache refused payload")
)
