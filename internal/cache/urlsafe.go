package cache

import "strings"

const schemeSeparator = "://"

// IsURLValidAndSafe 判断 URL 能否安全地作为缓存键并映射为缓存根目录下的路径。
//
// 规则：必须以 http:// 或 https:// 开头；scheme 之后的每个字符都属于
// [A-Za-z0-9/=-_:,.]；主机部分非空；任何路径段都不能是 "." 或 ".."。
func IsURLValidAndSafe(url string) bool {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}
	rest := url[strings.Index(url, schemeSeparator)+len(schemeSeparator):]
	if rest == "" || rest[0] == '/' {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if !isSafeByte(rest[i]) {
			return false
		}
	}
	for _, segment := range strings.Split(rest, "/") {
		if segment == "." || segment == ".." {
			return false
		}
	}
	return true
}

func isSafeByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("/=-_:,.", c) >= 0
}

// folderOf 返回 URL 中 scheme 之后的部分（host+path），即正文所在的相对目录。
// 调用方需先通过 IsURLValidAndSafe 校验。
func folderOf(url string) string {
	idx := strings.Index(url, schemeSeparator)
	if idx < 0 {
		return url
	}
	return strings.TrimSuffix(url[idx+len(schemeSeparator):], "/")
}
