package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// defaultTransport 集中配置超时与长连接参数；每个 worker 克隆一份，
// 以便在同一 worker 处理的多个任务间复用 TCP/TLS 连接。
var defaultTransport = &http.Transport{
	MaxIdleConns:          16,
	MaxIdleConnsPerHost:   4,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// ClientOptions 描述 worker 私有 http.Client 的参数。
type ClientOptions struct {
	// Proxy 为空或 "direct" 时直连，否则作为上游代理地址。
	Proxy string
	// Timeout 限制等待响应头的时间；正文读取不设上限，大文件不会因此中断。
	Timeout time.Duration
}

// NewWorkerClient 返回一个 worker 独占的 http.Client。
func NewWorkerClient(opts ClientOptions) (*http.Client, error) {
	timeout := 30 * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.Proxy = nil
	if opts.Proxy != "" && opts.Proxy != "direct" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}
