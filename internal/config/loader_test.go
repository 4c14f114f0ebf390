package config

import (
	"path/filepath"
	"testing"
)

func TestLoadFailsWithMissingBudget(t *testing.T) {
	t.Setenv("CLEANER_MAX_SIZE", "")
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失 Cleaner.MaxSize 的配置应返回错误")
	}
}

func TestLoadBudgetFromEnvironment(t *testing.T) {
	t.Setenv("CLEANER_MAX_SIZE", "10240M")
	cfg, err := Load(testConfigPath(t, "missing.toml"))
	if err != nil {
		t.Fatalf("环境变量应补齐预算: %v", err)
	}
	if cfg.Cleaner.MaxBytes() != 10240*1024*1024 {
		t.Fatalf("预算解析错误: %d", cfg.Cleaner.MaxBytes())
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLEANER_MAX_SIZE", "1G")
	t.Setenv("PISSTAUBE_STORAGE_PATH", dir)
	t.Setenv("PRIVATE_API_KEY", "key")
	t.Setenv("CLEANER_EVICTION_POLICY", "LEGACY")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath != dir {
		t.Fatalf("StoragePath 应来自环境变量，得到 %s", cfg.Global.StoragePath)
	}
	if cfg.Global.DatabasePath != filepath.Join(dir, "pisstaube.db") {
		t.Fatalf("DatabasePath 推导错误: %s", cfg.Global.DatabasePath)
	}
	if cfg.Cleaner.EvictionPolicy != EvictionPolicyLegacy {
		t.Fatalf("EvictionPolicy 应被标准化为 legacy，得到 %s", cfg.Cleaner.EvictionPolicy)
	}
	if cfg.CacheDir() != filepath.Join(dir, "cache") {
		t.Fatalf("CacheDir 错误: %s", cfg.CacheDir())
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("CLEANER_MAX_SIZE", "")
	cfg := `
LogLevel = "info"
StoragePath = "./data"

[Cleaner]
MaxSize = "1G"
StaleAfter = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}
