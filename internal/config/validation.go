package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}

	if err := c.Cleaner.validate(); err != nil {
		return err
	}
	return c.Mirror.validate()
}

func (c CleanerConfig) validate() error {
	if c.MaxSize == "" {
		return newFieldError(cleanerField("MaxSize"), "必须设置（或通过 CLEANER_MAX_SIZE 注入）")
	}
	switch c.EvictionPolicy {
	case EvictionPolicyLRU, EvictionPolicyLegacy:
	default:
		return newFieldError(cleanerField("EvictionPolicy"), "仅支持 lru/legacy")
	}
	if c.StaleAfter.DurationValue() <= 0 {
		return newFieldError(cleanerField("StaleAfter"), "必须大于 0")
	}
	return nil
}

func (m MirrorConfig) validate() error {
	if m.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(mirrorField("UpstreamTimeout"), "必须大于 0")
	}
	if !m.Enabled() {
		return nil
	}
	if err := validateUpstream(m.Upstream); err != nil {
		return fmt.Errorf("%s: %w", mirrorField("Upstream"), err)
	}
	return nil
}

func validateUpstream(raw string) error {
	if strings.Count(raw, "%d") != 1 {
		return errors.New("需要且仅需要一个 %d 占位符用于 SetID")
	}
	parsed, err := url.Parse(strings.Replace(raw, "%d", "0", 1))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
