package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Global.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheRoot = absRoot

	return cfg, nil
}

// Default 返回仅包含默认值的配置，供未提供配置文件的命令使用。
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// 默认值本身必须合法。
		panic(err)
	}
	if absRoot, err := filepath.Abs(cfg.Global.CacheRoot); err == nil {
		cfg.Global.CacheRoot = absRoot
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogToFile", false)
	v.SetDefault("LogDir", ".")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheRoot", "./storage")
	v.SetDefault("IndexFile", "cache.sqlite3")
	v.SetDefault("IndexTable", "cache")
	v.SetDefault("CacheTTL", "72h")
	v.SetDefault("VerifyChecksum", true)
	v.SetDefault("Workers", 6)
	v.SetDefault("Proxy", ProxyDirect)
	v.SetDefault("MaxAttempts", 5)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("RequestTimeout", "30s")
	v.SetDefault("PollInterval", "1s")
	v.SetDefault("UserAgent", DefaultUserAgent)
	v.SetDefault("ListenPort", 5000)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.IndexFile == "" {
		g.IndexFile = "cache.sqlite3"
	}
	if g.IndexTable == "" {
		g.IndexTable = "cache"
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(72 * time.Hour)
	}
	if g.Workers == 0 {
		g.Workers = 6
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 5
	}
	if g.RequestTimeout.DurationValue() == 0 {
		g.RequestTimeout = Duration(30 * time.Second)
	}
	if g.PollInterval.DurationValue() == 0 {
		g.PollInterval = Duration(time.Second)
	}
	if g.Proxy == "" {
		g.Proxy = ProxyDirect
	}
	if g.UserAgent == "" {
		g.UserAgent = DefaultUserAgent
	}
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
