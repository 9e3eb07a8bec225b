package fetch

import (
	"context"
	"time"

	"github.com/sunrenjie/youtube-dl/internal/cache"
)

// Token 是持有唯一 cache.Manager 的单槽位通道：同一时刻至多一个持有者
// 可以访问 Manager，网络请求期间不持有。
type Token struct {
	slot chan *cache.Manager
}

// NewToken 把 manager 放入槽位。
func NewToken(manager *cache.Manager) *Token {
	t := &Token{slot: make(chan *cache.Manager, 1)}
	t.slot <- manager
	return t
}

// Acquire 最多等待 timeout 取走 Manager；超时返回 false，调用方可再次等待。
func (t *Token) Acquire(timeout time.Duration) (*cache.Manager, bool) {
	select {
	case m := <-t.slot:
		return m, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-t.slot:
		return m, true
	case <-timer.C:
		return nil, false
	}
}

// Release 归还 Manager。只能由 Acquire 成功的一方调用一次。
func (t *Token) Release(manager *cache.Manager) {
	t.slot <- manager
}

// With 以 poll 为单次等待上限反复尝试获取 Manager，持有期间执行 fn，
// 结束后总会归还。ctx 取消时返回 ctx.Err()。
func (t *Token) With(ctx context.Context, poll time.Duration, fn func(*cache.Manager) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		manager, ok := t.Acquire(poll)
		if !ok {
			continue
		}
		defer t.Release(manager)
		return fn(manager)
	}
}
