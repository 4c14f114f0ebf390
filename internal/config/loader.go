package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 保留旧版部署直接通过环境变量注入的配置项。
var envBindings = map[string]string{
	"ListenPort":             "PISSTAUBE_LISTEN_PORT",
	"StoragePath":            "PISSTAUBE_STORAGE_PATH",
	"DatabasePath":           "PISSTAUBE_DATABASE_PATH",
	"PrivateAPIKey":          "PRIVATE_API_KEY",
	"Cleaner.MaxSize":        "CLEANER_MAX_SIZE",
	"Cleaner.EvictionPolicy": "CLEANER_EVICTION_POLICY",
	"Mirror.Upstream":        "MIRROR_UPSTREAM",
}

// Load 读取 TOML 配置（path 为空时仅使用环境变量与默认值），注入默认值并执行校验。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCleanerDefaults(&cfg.Cleaner)
	applyMirrorDefaults(&cfg.Mirror)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.DatabasePath == "" {
		cfg.Global.DatabasePath = filepath.Join(absStorage, "pisstaube.db")
	} else if cfg.Global.DatabasePath != ":memory:" {
		absDB, err := filepath.Abs(cfg.Global.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析数据库路径: %w", err)
		}
		cfg.Global.DatabasePath = absDB
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 62011)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./data")
	v.SetDefault("DatabasePath", "")
	v.SetDefault("PrivateAPIKey", "")
	v.SetDefault("Cleaner.MaxSize", "")
	v.SetDefault("Cleaner.EvictionPolicy", string(EvictionPolicyLRU))
	v.SetDefault("Cleaner.StaleAfter", "168h")
	v.SetDefault("Cleaner.HousekeepingInterval", "10m")
	v.SetDefault("Mirror.Upstream", "")
	v.SetDefault("Mirror.UpstreamTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 62011
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.StoragePath == "" {
		g.StoragePath = "./data"
	}
}

func applyCleanerDefaults(c *CleanerConfig) {
	c.MaxSize = strings.TrimSpace(c.MaxSize)
	policy := strings.ToLower(strings.TrimSpace(string(c.EvictionPolicy)))
	if policy == "" {
		policy = string(EvictionPolicyLRU)
	}
	c.EvictionPolicy = EvictionPolicy(policy)
	if c.StaleAfter.DurationValue() == 0 {
		c.StaleAfter = Duration(7 * 24 * time.Hour)
	}
	if c.HousekeepingInterval.DurationValue() < 0 {
		c.HousekeepingInterval = Duration(0)
	}
}

func applyMirrorDefaults(m *MirrorConfig) {
	m.Upstream = strings.TrimSpace(m.Upstream)
	if m.UpstreamTimeout.DurationValue() == 0 {
		m.UpstreamTimeout = Duration(30 * time.Second)
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

func joinStorage(base, name string) string {
	return filepath.Join(base, name)
}
