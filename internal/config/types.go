package config

import (
	"strings"
	"time"
)

// Duration 是以 time.Duration 为底层的配置字段类型，TOML 中可写作 Go Duration
// 字符串（"30s"、"72h"）或秒数（整数、小数或数字字符串），统一由
// loader.go 的 durationDecodeHook 解析。
type Duration time.Duration

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ProxyDirect 表示不经过任何上游代理直接访问。
const ProxyDirect = "direct"

// DefaultUserAgent 是未显式提供 User-Agent 时附加到每个任务上的浏览器标识。
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/74.0.3729.11 Safari/537.36"

// GlobalConfig 描述一次批量下载运行的全部参数。
type GlobalConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogToFile     bool   `mapstructure:"LogToFile"`
	LogDir        string `mapstructure:"LogDir"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	CacheRoot      string   `mapstructure:"CacheRoot"`
	IndexFile      string   `mapstructure:"IndexFile"`
	IndexTable     string   `mapstructure:"IndexTable"`
	CacheTTL       Duration `mapstructure:"CacheTTL"`
	VerifyChecksum bool     `mapstructure:"VerifyChecksum"`

	Workers        int      `mapstructure:"Workers"`
	Proxy          string   `mapstructure:"Proxy"`
	MaxAttempts    int      `mapstructure:"MaxAttempts"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	RequestTimeout Duration `mapstructure:"RequestTimeout"`
	PollInterval   Duration `mapstructure:"PollInterval"`
	UserAgent      string   `mapstructure:"UserAgent"`

	ListenPort int `mapstructure:"ListenPort"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	// Headers 是对所有任务生效的 "Key: Value" 形式请求头。
	Headers []string `mapstructure:"Headers"`
}

// UsesProxy 表示是否需要经由上游代理发起请求。
func (g GlobalConfig) UsesProxy() bool {
	proxy := strings.TrimSpace(g.Proxy)
	return proxy != "" && !strings.EqualFold(proxy, ProxyDirect)
}

// ProxyMode 输出 `direct` 或代理地址，供日志字段使用。
func (g GlobalConfig) ProxyMode() string {
	if g.UsesProxy() {
		return g.Proxy
	}
	return ProxyDirect
}
