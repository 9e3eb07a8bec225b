package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sunrenjie/youtube-dl/internal/cache"
)

const (
	// DefaultWorkers 是未配置时启动的 worker 数。
	DefaultWorkers = 6
	// DefaultMaxAttempts 是每个任务在传输层失败时的最大尝试次数。
	DefaultMaxAttempts = 5
)

// Options 控制 worker 池的行为，零值字段使用默认值。
type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	PollInterval   time.Duration
	Client         ClientOptions
	// NewClient 为每个 worker 创建私有 http.Client，默认使用 NewWorkerClient(Client)。
	NewClient func() (*http.Client, error)
	Logger    logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.NewClient == nil {
		clientOpts := o.Client
		o.NewClient = func() (*http.Client, error) { return NewWorkerClient(clientOpts) }
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Report 汇总一次运行的结果。
type Report struct {
	// Submitted 是调用方提交的任务数，Skipped 是过滤阶段丢弃的数量。
	Submitted int
	Skipped   int
	Queued    int

	Committed   []string
	Uncommitted []string
	Rejected    []string
	// Invalid 是无法构造成合法请求的任务（如非法请求头）。
	Invalid []string
	// Failed 是重试耗尽、导致 worker 终止的 URL。
	Failed []string
	// AbortedWorkers 是因致命错误退出的 worker 数。
	AbortedWorkers int
	// Abandoned 是所有 worker 退出后仍留在队列中的任务数。
	Abandoned int
}

// OK 表示没有 worker 异常退出且没有任务被遗留。
func (r Report) OK() bool {
	return r.AbortedWorkers == 0 && r.Abandoned == 0
}

type collector struct {
	mu     sync.Mutex
	report Report
}

func (c *collector) committed(url string)   { c.add(&c.report.Committed, url) }
func (c *collector) uncommitted(url string) { c.add(&c.report.Uncommitted, url) }
func (c *collector) rejected(url string)    { c.add(&c.report.Rejected, url) }
func (c *collector) invalid(url string)     { c.add(&c.report.Invalid, url) }
func (c *collector) failed(url string)      { c.add(&c.report.Failed, url) }

func (c *collector) add(list *[]string, url string) {
	c.mu.Lock()
	*list = append(*list, url)
	c.mu.Unlock()
}

func (c *collector) aborted() {
	c.mu.Lock()
	c.report.AbortedWorkers++
	c.mu.Unlock()
}

// Pool 拥有一次运行的任务队列与 Token，每次运行都应新建。
type Pool struct {
	queue  *Queue
	token  *Token
	opts   Options
	logger logrus.FieldLogger
}

// NewPool 以 jobs 填充队列并把 manager 放入 Token。
func NewPool(manager *cache.Manager, jobs []Job, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		queue:  NewQueue(jobs...),
		token:  NewToken(manager),
		opts:   opts,
		logger: opts.Logger,
	}
}

// Run 启动 Workers 个 worker 并等待全部结束。单个 worker 的致命错误不会
// 取消其它 worker；返回的 error 是第一个致命错误。
func (p *Pool) Run(ctx context.Context) (Report, error) {
	c := &collector{}
	c.report.Queued = p.queue.Len()

	workers := make([]*worker, 0, p.opts.Workers)
	for i := 0; i < p.opts.Workers; i++ {
		client, err := p.opts.NewClient()
		if err != nil {
			return c.report, fmt.Errorf("create http client: %w", err)
		}
		workers = append(workers, &worker{
			name:   fmt.Sprintf("worker-%d", i),
			client: client,
			queue:  p.queue,
			token:  p.token,
			opts:   p.opts,
			logger: p.logger,
			report: c,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"action":  "pool_start",
		"workers": len(workers),
		"jobs":    c.report.Queued,
		"proxy":   proxyLabel(p.opts.Client.Proxy),
	}).Info("开始下载")

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			err := w.run(ctx)
			if err != nil {
				c.aborted()
				p.logger.WithError(err).WithField("worker", w.name).Error("worker 异常退出")
			}
			return err
		})
	}
	err := g.Wait()

	c.mu.Lock()
	report := c.report
	c.mu.Unlock()
	report.Abandoned = p.queue.Len()

	p.logger.WithFields(logrus.Fields{
		"action":          "pool_done",
		"committed":       len(report.Committed),
		"uncommitted":     len(report.Uncommitted),
		"rejected":        len(report.Rejected),
		"invalid":         len(report.Invalid),
		"failed":          len(report.Failed),
		"aborted_workers": report.AbortedWorkers,
		"abandoned":       report.Abandoned,
	}).Info("下载结束")
	return report, err
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return proxy
}

// RunConfig 是 Run 的全部输入。
type RunConfig struct {
	Cache          cache.Options
	Pool           Options
	VerifyChecksum bool
	// UserAgent 在任务未携带 User-Agent 时补充。
	UserAgent string
	Logger    logrus.FieldLogger
}

// Run 在 cfg.Cache.Root 下打开缓存，过滤掉已命中或不安全的任务，
// 然后用新的 Pool 处理剩余任务并等待全部 worker 结束。
func Run(ctx context.Context, cfg RunConfig, jobs []Job) (Report, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Cache.Logger == nil {
		cfg.Cache.Logger = cfg.Logger
	}
	if cfg.Pool.Logger == nil {
		cfg.Pool.Logger = cfg.Logger
	}

	manager, err := cache.NewManager(ctx, cfg.Cache)
	if err != nil {
		return Report{Submitted: len(jobs)}, err
	}
	defer manager.Close()

	filtered := Filter(ctx, manager, jobs, cfg.UserAgent, cfg.VerifyChecksum, cfg.Logger)

	report, err := NewPool(manager, filtered, cfg.Pool).Run(ctx)
	report.Submitted = len(jobs)
	report.Skipped = len(jobs) - len(filtered)
	return report, err
}

// Filter 规范化任务（去除 URL 首尾空白、规范化请求头键、补充 User-Agent），并丢弃不安全、
// 重复或已有新鲜缓存的任务。返回的任务持有独立的 Headers 副本。
func Filter(ctx context.Context, manager *cache.Manager, jobs []Job, userAgent string, verifyChecksum bool, logger logrus.FieldLogger) []Job {
	seen := make(map[string]struct{}, len(jobs))
	filtered := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		url := strings.TrimSpace(job.URL)
		fields := logrus.Fields{"action": "job_filter", "url": url}

		if !cache.IsURLValidAndSafe(url) {
			logger.WithError(cache.ErrInvalidURL).WithFields(fields).Warn("URL 无法可靠缓存，跳过")
			continue
		}
		if _, dup := seen[url]; dup {
			logger.WithFields(fields).Debug("重复任务，跳过")
			continue
		}
		seen[url] = struct{}{}

		if _, hit := manager.Get(ctx, url, verifyChecksum); hit {
			logger.WithFields(fields).Debug("已有缓存，跳过")
			continue
		}

		headers := canonicalHeaders(job.Headers)
		if _, ok := headers["User-Agent"]; !ok && userAgent != "" {
			headers["User-Agent"] = userAgent
		}
		filtered = append(filtered, Job{URL: url, Headers: headers})
	}
	return filtered
}

// canonicalHeaders 复制 headers 并把键规范化；仅大小写不同的键按字典序合并，
// 保证结果与 map 遍历顺序无关。
func canonicalHeaders(headers map[string]string) map[string]string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(headers)+1)
	for _, key := range keys {
		out[http.CanonicalHeaderKey(key)] = headers[key]
	}
	return out
}
