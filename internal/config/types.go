package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"168h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// EvictionPolicy 决定 Cleaner 选择淘汰对象的方向。
type EvictionPolicy string

const (
	// EvictionPolicyLRU 优先淘汰超过 StaleAfter 未被下载的条目，回退时按最旧、最少下载排序。
	EvictionPolicyLRU EvictionPolicy = "lru"
	// EvictionPolicyLegacy 与旧版实现逐字节一致：几乎任意条目都会命中首选规则，回退时按最新、最多下载排序。
	EvictionPolicyLegacy EvictionPolicy = "legacy"
)

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	DatabasePath  string `mapstructure:"DatabasePath"`
	PrivateAPIKey string `mapstructure:"PrivateAPIKey"`
}

// CleanerConfig 控制磁盘缓存的容量预算与淘汰策略。
type CleanerConfig struct {
	MaxSize              string         `mapstructure:"MaxSize"`
	EvictionPolicy       EvictionPolicy `mapstructure:"EvictionPolicy"`
	StaleAfter           Duration       `mapstructure:"StaleAfter"`
	HousekeepingInterval Duration       `mapstructure:"HousekeepingInterval"`
}

// MaxBytes 返回解析后的缓存字节预算。
func (c CleanerConfig) MaxBytes() uint64 {
	return ParseByteSize(c.MaxSize)
}

// MirrorConfig 描述缓存未命中时的回源行为；Upstream 为空表示不回源。
type MirrorConfig struct {
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// Enabled 表示是否配置了回源地址。
func (m MirrorConfig) Enabled() bool {
	return strings.TrimSpace(m.Upstream) != ""
}

// Config 是 TOML 文件与环境变量合并后的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Cleaner CleanerConfig `mapstructure:"Cleaner"`
	Mirror  MirrorConfig  `mapstructure:"Mirror"`
}

// CacheDir 返回归档文件所在目录。
func (c *Config) CacheDir() string {
	return joinStorage(c.Global.StoragePath, "cache")
}

// TempDir 返回写入中转与 dump 临时文件所在目录。
func (c *Config) TempDir() string {
	return joinStorage(c.Global.StoragePath, "tmp")
}

// AdminEnabled 表示是否配置了私有 API Key。
func (c *Config) AdminEnabled() bool {
	return c.Global.PrivateAPIKey != ""
}
