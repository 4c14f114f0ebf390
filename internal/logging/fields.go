package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 SetID 与命中状态字段，供下载请求日志复用。
func RequestFields(requestID string, setID int, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"set_id":    setID,
		"cache_hit": cacheHit,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// CleanerFields 记录一次容量检查时的占用与预算。
func CleanerFields(action string, used, budget uint64) logrus.Fields {
	return logrus.Fields{
		"action":       action,
		"bytes_used":   used,
		"bytes_budget": budget,
	}
}
