package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 backend/prefix/类型字段，供请求日志复用。
func RequestFields(backendName, prefix, backendType string) logrus.Fields {
	return logrus.Fields{
		"backend":      backendName,
		"prefix":       prefix,
		"backend_type": backendType,
	}
}
