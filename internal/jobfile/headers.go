package jobfile

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"
)

// ErrMalformedHeader 表示请求头行缺少 ':' 分隔符，或名称、取值不是合法的 HTTP 请求头。
var ErrMalformedHeader = errors.New("malformed header")

// ParseHeaders 解析 "Key: Value" 形式的请求头行，键统一为规范大小写。重复的键
// （大小写不敏感）以后出现者为准并记录告警；结果中缺少 User-Agent 时补充 userAgent
// （为空则不补充）。
func ParseHeaders(lines []string, userAgent string, logger logrus.FieldLogger) (map[string]string, error) {
	headers := make(map[string]string, len(lines)+1)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		key = http.CanonicalHeaderKey(key)
		if prev, dup := headers[key]; dup && logger != nil {
			logger.WithFields(logrus.Fields{
				"action": "header_parse",
				"key":    key,
				"first":  prev,
				"second": value,
			}).Warn("请求头重复，以后者为准")
		}
		headers[key] = value
	}
	SetDefault(headers, "User-Agent", userAgent)
	return headers, nil
}

// SetDefault 在 headers 不含 key（大小写不敏感）时写入 value。
func SetDefault(headers map[string]string, key, value string) {
	if value == "" {
		return
	}
	for existing := range headers {
		if strings.EqualFold(existing, key) {
			return
		}
	}
	headers[key] = value
}
