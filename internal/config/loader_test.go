package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("缺失的配置文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
CacheRoot = "./data"
CacheTTL = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeTempConfig(t, `LogLevel = "chatty"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("未知日志级别应失败")
	}
}

func TestLoadDurationForms(t *testing.T) {
	path := writeTempConfig(t, `
CacheRoot = "./data"
CacheTTL = "36h"
InitialBackoff = "1.5"
RequestTimeout = 20
PollInterval = 0.25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	cases := map[string]struct {
		got, want time.Duration
	}{
		"CacheTTL":       {cfg.Global.CacheTTL.DurationValue(), 36 * time.Hour},
		"InitialBackoff": {cfg.Global.InitialBackoff.DurationValue(), 1500 * time.Millisecond},
		"RequestTimeout": {cfg.Global.RequestTimeout.DurationValue(), 20 * time.Second},
		"PollInterval":   {cfg.Global.PollInterval.DurationValue(), 250 * time.Millisecond},
	}
	for field, c := range cases {
		if c.got != c.want {
			t.Fatalf("%s 解析错误: 期望 %s，得到 %s", field, c.want, c.got)
		}
	}
}

func TestLoadRejectsHexDuration(t *testing.T) {
	path := writeTempConfig(t, `
CacheRoot = "./data"
CacheTTL = "0x10"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("十六进制 Duration 应失败")
	}
}
