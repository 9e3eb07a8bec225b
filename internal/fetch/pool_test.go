package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunrenjie/youtube-dl/internal/cache"
)

func TestPoolFetchesAndCommits(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	jobs := []Job{
		{URL: upstream.URL + "/a.ts"},
		{URL: upstream.URL + "/b.ts"},
	}
	report, err := NewPool(m, jobs, testPoolOptions(t, 2)).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.ElementsMatch(t, []string{jobs[0].URL, jobs[1].URL}, report.Committed)

	data, ok := m.Get(ctx, jobs[0].URL, true)
	require.True(t, ok)
	assert.Equal(t, "body:/a.ts", string(data))
}

func TestPoolForwardsJobHeaders(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	jobs := []Job{{URL: upstream.URL + "/h", Headers: map[string]string{"Referer": "https://ref.example.com/"}}}
	_, err := NewPool(m, jobs, testPoolOptions(t, 1)).Run(ctx)
	require.NoError(t, err)

	req := upstream.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "https://ref.example.com/", req.Header.Get("Referer"))
}

func TestPoolDiscardsNonOKWithoutRetry(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	url := upstream.URL + "/status/404"
	report, err := NewPool(m, []Job{{URL: url}}, testPoolOptions(t, 1)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, report.Rejected)
	assert.Empty(t, report.Committed)
	assert.EqualValues(t, 1, upstream.hits(url))

	_, ok := m.Get(ctx, url, true)
	assert.False(t, ok)
}

func TestPoolRetryExhaustionStopsWorker(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	transport := &failingTransport{}

	opts := testPoolOptions(t, 1)
	opts.NewClient = func() (*http.Client, error) { return &http.Client{Transport: transport}, nil }

	jobs := []Job{
		{URL: "https://unreachable.example.com/first"},
		{URL: "https://unreachable.example.com/second"},
	}
	report, err := NewPool(m, jobs, opts).Run(ctx)
	require.ErrorIs(t, err, ErrFetchFailure)

	assert.EqualValues(t, 5, transport.attempts.Load())
	assert.Equal(t, []string{jobs[0].URL}, report.Failed)
	assert.Equal(t, 1, report.AbortedWorkers)
	assert.Equal(t, 1, report.Abandoned)
	assert.False(t, report.OK())

	_, ok := m.Get(ctx, jobs[0].URL, true)
	assert.False(t, ok)
	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPoolAbortedWorkerDoesNotStopSiblings(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	opts := testPoolOptions(t, 2)
	var created atomic.Int32
	opts.NewClient = func() (*http.Client, error) {
		if created.Add(1) == 1 {
			return &http.Client{Transport: &failingTransport{}}, nil
		}
		return &http.Client{}, nil
	}

	var jobs []Job
	for i := 0; i < 6; i++ {
		jobs = append(jobs, Job{URL: fmt.Sprintf("%s/ok-%d", upstream.URL, i)})
	}
	report, err := NewPool(m, jobs, opts).Run(ctx)

	// 健康的 worker 可能在失败的 worker 取到任务前就清空队列。
	assert.LessOrEqual(t, report.AbortedWorkers, 1)
	assert.Len(t, report.Failed, report.AbortedWorkers)
	assert.Len(t, report.Committed, len(jobs)-report.AbortedWorkers)
	assert.Equal(t, 0, report.Abandoned)
	if report.AbortedWorkers == 1 {
		require.ErrorIs(t, err, ErrFetchFailure)
	} else {
		require.NoError(t, err)
	}
}

func TestPoolConcurrentCommitsAreComplete(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	const n = 40
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{URL: fmt.Sprintf("%s/seg-%d.ts", upstream.URL, i)}
	}
	report, err := NewPool(m, jobs, testPoolOptions(t, 8)).Run(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Committed, n)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for _, entry := range entries {
		assert.Equal(t, cache.Checksum([]byte("body:"+strings.TrimPrefix(entry.URL, upstream.URL))), filepath.Base(entry.RelativePath))
	}

	assert.Equal(t, n, countBlobs(t, m.Root()))
}

func TestRunFiltersCachedAndUnsafeJobs(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	root := t.TempDir()
	logger, _ := test.NewNullLogger()

	cached := upstream.URL + "/cached"
	seed, err := cache.NewManager(ctx, cache.Options{Root: root, Logger: logger})
	require.NoError(t, err)
	stored, err := seed.Put(ctx, cached, []byte("already here"))
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, seed.Close())

	fresh := upstream.URL + "/fresh"
	jobs := []Job{
		{URL: cached},
		{URL: "  " + fresh + "  "},
		{URL: fresh},
		{URL: "https://example.com/a b"},
		{URL: "ftp://example.com/x"},
	}
	report, err := Run(ctx, RunConfig{
		Cache:          cache.Options{Root: root},
		Pool:           testPoolOptions(t, 2),
		VerifyChecksum: true,
		UserAgent:      "batchdl-test",
		Logger:         logger,
	}, jobs)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Submitted)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, []string{fresh}, report.Committed)
	assert.EqualValues(t, 0, upstream.hits(cached))
	assert.EqualValues(t, 1, upstream.hits(fresh))
	assert.Equal(t, "batchdl-test", upstream.lastRequest().Header.Get("User-Agent"))
}

func TestFilterKeepsExplicitUserAgentAndCopiesHeaders(t *testing.T) {
	m := newTestManager(t)
	logger, _ := test.NewNullLogger()

	original := map[string]string{"user-agent": "custom"}
	out := Filter(context.Background(), m, []Job{{URL: "https://example.com/a", Headers: original}}, "default-ua", true, logger)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]string{"User-Agent": "custom"}, out[0].Headers)

	out[0].Headers["X-Extra"] = "1"
	assert.NotContains(t, original, "X-Extra")
}

func TestFilterMergesHeaderCaseVariantsDeterministically(t *testing.T) {
	m := newTestManager(t)
	logger, _ := test.NewNullLogger()

	headers := map[string]string{"Referer": "https://upper.example.com/", "referer": "https://lower.example.com/"}
	for i := 0; i < 20; i++ {
		out := Filter(context.Background(), m, []Job{{URL: "https://example.com/a", Headers: headers}}, "", true, logger)
		require.Len(t, out, 1)
		assert.Equal(t, map[string]string{"Referer": "https://lower.example.com/"}, out[0].Headers)
	}
}

func TestPoolDropsInvalidHeaderJobAndKeepsWorking(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	bad := upstream.URL + "/bad"
	good := upstream.URL + "/good"
	jobs := []Job{
		{URL: bad, Headers: map[string]string{"Referer https": "//x"}},
		{URL: good},
	}
	report, err := NewPool(m, jobs, testPoolOptions(t, 1)).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{bad}, report.Invalid)
	assert.Equal(t, []string{good}, report.Committed)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 0, report.AbortedWorkers)
	assert.Equal(t, 0, report.Abandoned)
	assert.True(t, report.OK())
	assert.EqualValues(t, 0, upstream.hits(bad))
}

func TestPoolEmptyBodyIsNotCommitted(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	m := newTestManager(t)

	url := upstream.URL + "/empty"
	report, err := NewPool(m, []Job{{URL: url}}, testPoolOptions(t, 1)).Run(ctx)
	require.NoError(t, err)

	assert.Empty(t, report.Committed)
	assert.Equal(t, []string{url}, report.Uncommitted)
	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunRequiresExistingRoot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Run(context.Background(), RunConfig{
		Cache:  cache.Options{Root: filepath.Join(t.TempDir(), "missing")},
		Logger: logger,
	}, []Job{{URL: "https://example.com/a"}})
	require.ErrorIs(t, err, cache.ErrCacheRootMissing)
}

func TestPoolCancellationAbandonsJobs(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewPool(m, []Job{{URL: "https://example.com/a"}}, testPoolOptions(t, 1)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Abandoned)
}

func TestNewWorkerClientProxy(t *testing.T) {
	direct, err := NewWorkerClient(ClientOptions{Proxy: "direct", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Zero(t, direct.Timeout, "body reads must not be bounded")
	assert.Equal(t, 5*time.Second, direct.Transport.(*http.Transport).ResponseHeaderTimeout)
	assert.Nil(t, direct.Transport.(*http.Transport).Proxy)

	proxied, err := NewWorkerClient(ClientOptions{Proxy: "http://127.0.0.1:8118"})
	require.NoError(t, err)
	proxyFunc := proxied.Transport.(*http.Transport).Proxy
	require.NotNil(t, proxyFunc)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	proxyURL, err := proxyFunc(req)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8118", proxyURL.Host)

	a, err := NewWorkerClient(ClientOptions{})
	require.NoError(t, err)
	b, err := NewWorkerClient(ClientOptions{})
	require.NoError(t, err)
	assert.NotSame(t, a.Transport, b.Transport, "each worker owns its own connection pool")
}

// upstream 是记录请求次数的简易上游：/status/<code> 返回对应状态码，
// /empty 返回空的 200，其余路径返回 "body:<path>"。
type upstream struct {
	*httptest.Server
	mu       sync.Mutex
	counts   map[string]int
	requests []*http.Request
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{counts: map[string]int{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.counts[r.URL.Path]++
		u.requests = append(u.requests, r.Clone(context.Background()))
		u.mu.Unlock()

		var code int
		if _, err := fmt.Sscanf(r.URL.Path, "/status/%d", &code); err == nil {
			w.WriteHeader(code)
			return
		}
		if r.URL.Path == "/empty" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte("body:" + r.URL.Path))
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) hits(url string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[strings.TrimPrefix(url, u.URL)]
}

func (u *upstream) lastRequest() *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return nil
	}
	return u.requests[len(u.requests)-1]
}

// failingTransport 模拟每次都在传输层失败的网络。
type failingTransport struct {
	attempts atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.attempts.Add(1)
	return nil, errors.New("connection reset by peer")
}

func testPoolOptions(t *testing.T, workers int) Options {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return Options{
		Workers:      workers,
		MaxAttempts:  5,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	}
}

func newTestManager(t *testing.T) *cache.Manager {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m, err := cache.NewManager(context.Background(), cache.Options{Root: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func countBlobs(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), cache.DefaultIndexFile) {
			return nil
		}
		n++
		return nil
	})
	require.NoError(t, err)
	return n
}
