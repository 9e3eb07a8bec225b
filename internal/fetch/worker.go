package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/sunrenjie/youtube-dl/internal/cache"
	"github.com/sunrenjie/youtube-dl/internal/logging"
)

// worker 循环执行 Idle → Fetching → Committing → Idle，直到队列为空。
type worker struct {
	name   string
	client *http.Client
	queue  *Queue
	token  *Token
	opts   Options
	logger logrus.FieldLogger
	report *collector
}

func (w *worker) run(ctx context.Context) error {
	for w.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, ok := w.queue.Pop(w.opts.PollInterval)
		if !ok {
			continue
		}

		data, err := w.fetch(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, ErrUpstreamRejected):
			w.report.rejected(job.URL)
			continue
		case errors.Is(err, ErrInvalidJob):
			w.report.invalid(job.URL)
			continue
		case ctx.Err() != nil:
			// 未完成的任务放回队列，计入 abandoned。
			w.queue.Push(job)
			return ctx.Err()
		default:
			w.report.failed(job.URL)
			return err
		}

		w.commit(ctx, job, data)
	}
	return nil
}

// fetch 发起 GET 请求。非 200 返回 ErrUpstreamRejected、无法构造请求返回
// ErrInvalidJob（均不重试）；传输层错误按 MaxAttempts 重试，耗尽后返回 ErrFetchFailure。
func (w *worker) fetch(ctx context.Context, job Job) ([]byte, error) {
	fields := logging.JobFields(w.name, job.URL)

	req, err := newRequest(ctx, job)
	if err != nil {
		w.logger.WithError(err).WithFields(fields).Warn("任务无法构造请求，丢弃任务")
		return nil, err
	}

	var (
		attempts int
		data     []byte
	)
	operation := func() error {
		attempts++
		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.WithError(err).WithFields(fields).WithField("attempt", attempts).Info("请求失败")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			w.logger.WithFields(fields).WithField("status", resp.StatusCode).Info("请求未成功，丢弃任务")
			return backoff.Permanent(fmt.Errorf("%w: %s: HTTP %d", ErrUpstreamRejected, job.URL, resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			w.logger.WithError(err).WithFields(fields).WithField("attempt", attempts).Info("读取响应失败")
			return err
		}
		data = body
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(w.newBackOff(), uint64(w.opts.MaxAttempts-1)),
		ctx,
	)
	err = backoff.Retry(operation, policy)
	switch {
	case err == nil:
		w.logger.WithFields(fields).WithField("size", len(data)).Info("请求成功，准备写入缓存")
		return data, nil
	case errors.Is(err, ErrUpstreamRejected):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	w.logger.WithError(err).WithFields(fields).WithField("attempts", attempts).Error("重试次数耗尽，worker 停止工作")
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrFetchFailure, job.URL, attempts, err)
}

// newRequest 构造 GET 请求并在发出前校验请求头，非法任务返回 ErrInvalidJob。
func newRequest(ctx context.Context, job Job) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJob, job.URL, err)
	}
	for key, value := range job.Headers {
		if !httpguts.ValidHeaderFieldName(key) {
			return nil, fmt.Errorf("%w: %s: invalid header name %q", ErrInvalidJob, job.URL, key)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: %s: invalid value for header %q", ErrInvalidJob, job.URL, key)
		}
		req.Header.Set(key, value)
	}
	return req, nil
}

func (w *worker) newBackOff() backoff.BackOff {
	if w.opts.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.opts.InitialBackoff
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0
	return exp
}

// commit 持有 Token 期间写入缓存；写入失败或被拒绝只记录日志，任务不再重试。
func (w *worker) commit(ctx context.Context, job Job, data []byte) {
	err := w.token.With(ctx, w.opts.PollInterval, func(m *cache.Manager) error {
		stored, err := m.Put(ctx, job.URL, data)
		if err == nil && !stored {
			return ErrNotStored
		}
		return err
	})
	if err != nil {
		w.logger.WithError(err).WithFields(logging.JobFields(w.name, job.URL)).Error("写入缓存失败")
		w.report.uncommitted(job.URL)
		return
	}
	w.report.committed(job.URL)
}
