package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Chimu-moe/pisstaube/internal/config"
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

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
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
		LogFilePath: filepath.Join(blocked, "sub", "pisstaube.log"),
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
	path := filepath.Join(dir, "pisstaube.log")
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

func TestRequestFieldsOmitsEmptyRequestID(t *testing.T) {
	fields := RequestFields("", 42, true)
	if _, ok := fields["request_id"]; ok {
		t.Fatalf("空 request_id 不应写入字段")
	}
	if fields["set_id"] != 42 || fields["cache_hit"] != true {
		t.Fatalf("字段内容错误: %v", fields)
	}
}

func TestCleanerFields(t *testing.T) {
	fields := CleanerFields("cleaner_free", 10, 20)
	if fields["bytes_used"] != uint64(10) || fields["bytes_budget"] != uint64(20) {
		t.Fatalf("字段内容错误: %v", fields)
	}
}
