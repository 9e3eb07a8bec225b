package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// JobFields 提供 worker/url 字段，供下载任务日志复用。
func JobFields(worker, url string) logrus.Fields {
	return logrus.Fields{
		"worker": worker,
		"url":    url,
	}
}

// CacheFields 描述缓存条目的 url 与相对路径。
func CacheFields(url, relativePath string) logrus.Fields {
	return logrus.Fields{
		"url":           url,
		"relative_path": relativePath,
	}
}
