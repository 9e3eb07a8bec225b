package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sunrenjie/youtube-dl/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "chatty"}); err == nil {
		t.Fatalf("未知级别应返回错误")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 可以绕过目录权限")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "batchdl.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batchdl.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestConfigureGeneratesFileName(t *testing.T) {
	dir := t.TempDir()
	cfg := config.GlobalConfig{LogLevel: "info", LogToFile: true, LogDir: dir}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")

	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		t.Fatalf("glob 失败: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("预期生成 1 个日志文件，得到 %v", matches)
	}
}

func TestGeneratedLogPathFormat(t *testing.T) {
	now := time.Date(2019, 5, 1, 8, 9, 10, 123456000, time.UTC)
	path := GeneratedLogPath("/var/log", "/usr/bin/batchdl", now)

	name := filepath.Base(path)
	if !strings.HasPrefix(name, "batchdl--20190501080910-123456--") {
		t.Fatalf("文件名前缀错误: %s", name)
	}
	if !strings.HasSuffix(name, ".log") {
		t.Fatalf("文件名应以 .log 结尾: %s", name)
	}
	if filepath.Dir(path) != "/var/log" {
		t.Fatalf("目录错误: %s", path)
	}
	if other := GeneratedLogPath("/var/log", "batchdl", now); other == path {
		t.Fatalf("同一时刻生成的路径应不同")
	}
}
