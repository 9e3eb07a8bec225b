package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sunrenjie/youtube-dl/internal/config"
)

// InitLogger 根据全局配置初始化 JSON 结构化日志，确保文件/控制台输出一致。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, path, outErr := buildOutput(cfg, time.Now())
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   path,
		}).Warn(outErr.Error())
	} else if path != "" {
		logger.WithFields(logrus.Fields{
			"action": "logger_file",
			"path":   path,
		}).Info("日志同时写入文件")
	}

	return logger, nil
}

// buildOutput 根据配置创建日志输出 Writer；失败时降级到 stdout 并返回错误。
// 写文件时同时输出到 stdout，便于交互式运行时观察进度。
func buildOutput(cfg config.GlobalConfig, now time.Time) (io.Writer, string, error) {
	path := cfg.LogFilePath
	if path == "" && cfg.LogToFile {
		path = GeneratedLogPath(cfg.LogDir, os.Args[0], now)
	}
	if path == "" {
		return os.Stdout, "", nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, path, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	return io.MultiWriter(os.Stdout, rotator), path, nil
}

// GeneratedLogPath 生成 <program>--<时间戳>--<uuid>.log 形式的日志文件路径，
// 保证同一目录下多次运行互不覆盖。
func GeneratedLogPath(dir, program string, now time.Time) string {
	if dir == "" {
		dir = "."
	}
	name := fmt.Sprintf("%s--%s-%06d--%s.log",
		filepath.Base(program),
		now.Format("20060102150405"),
		now.Nanosecond()/int(time.Microsecond),
		uuid.NewString(),
	)
	abs, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return filepath.Join(dir, name)
	}
	return abs
}
