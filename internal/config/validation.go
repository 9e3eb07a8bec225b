package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动下载。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.CacheRoot == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}
	if g.IndexFile == "" || filepath.Base(g.IndexFile) != g.IndexFile {
		return newFieldError("Global.IndexFile", "必须是缓存目录下的文件名")
	}
	if !identifierPattern.MatchString(g.IndexTable) {
		return newFieldError("Global.IndexTable", "仅允许字母、数字与下划线")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.Workers <= 0 {
		return newFieldError("Global.Workers", "必须大于 0")
	}
	if g.MaxAttempts <= 0 {
		return newFieldError("Global.MaxAttempts", "必须大于 0")
	}
	if g.InitialBackoff.DurationValue() < 0 {
		return newFieldError("Global.InitialBackoff", "不能为负数")
	}
	if g.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RequestTimeout", "必须大于 0")
	}
	if g.PollInterval.DurationValue() <= 0 {
		return newFieldError("Global.PollInterval", "必须大于 0")
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UsesProxy() {
		if err := validateProxy(g.Proxy); err != nil {
			return fmt.Errorf("Global.Proxy: %w", err)
		}
	}

	for i, line := range c.Headers {
		if reason := headerProblem(line); reason != "" {
			return newFieldError(fmt.Sprintf("Headers[%d]", i), reason)
		}
	}

	return nil
}

// headerProblem 检查 "Key: Value" 行，返回空字符串表示合法。
func headerProblem(line string) string {
	key, value, ok := strings.Cut(line, ":")
	key = strings.TrimSpace(key)
	switch {
	case !ok || key == "":
		return "必须是 Key: Value 形式"
	case !httpguts.ValidHeaderFieldName(key):
		return fmt.Sprintf("非法的请求头名称 %q", key)
	case !httpguts.ValidHeaderFieldValue(strings.TrimSpace(value)):
		return fmt.Sprintf("请求头 %q 的值包含非法字符", key)
	}
	return ""
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("仅支持 http/https/socks5 代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}

// IndexPath 返回索引数据库的绝对路径。
func (g GlobalConfig) IndexPath() string {
	return filepath.Join(g.CacheRoot, g.IndexFile)
}
