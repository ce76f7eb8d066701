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

// Load 读取并解析 YAML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	for i := range cfg.Backends {
		applyBackendDefaults(&cfg.Backends[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Cache.Backend == "fs" {
		absDir, err := filepath.Abs(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Cache.Dir = absDir
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size", 100)
	v.SetDefault("log_max_backups", 10)
	v.SetDefault("log_compress", true)
	v.SetDefault("upstream_timeout", "30s")
	v.SetDefault("cache.backend", "fs")
	v.SetDefault("cache.dir", "./cache")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Backend == "" {
		c.Backend = "fs"
	}
	if c.Backend == "fs" && c.Dir == "" {
		c.Dir = "./cache"
	}
}

func applyBackendDefaults(b *BackendConfig) {
	switch b.Type {
	case "pypi":
		if b.Prefix == "" {
			b.Prefix = "/pypi/"
		}
		if b.IndexURL == "" {
			b.IndexURL = "https://pypi.org/simple"
		}
		if b.PackagesURL == "" {
			b.PackagesURL = "https://files.pythonhosted.org/packages"
		}
	case "docker":
		if b.Prefix == "" {
			b.Prefix = "/dockerhub/"
		}
		if len(b.Repositories) == 0 {
			if b.RegistryURL == "" {
				b.RegistryURL = "https://registry-1.docker.io"
			}
			if b.AuthURL == "" {
				b.AuthURL = "https://auth.docker.io"
			}
		}
	case "huggingface":
		if b.Prefix == "" {
			b.Prefix = "/huggingface/"
		}
		if b.BaseURL == "" {
			b.BaseURL = "https://huggingface.co"
		}
		if b.MaxRedirects == 0 {
			b.MaxRedirects = 5
		}
		if b.Timeout.DurationValue() == 0 {
			b.Timeout = Duration(60 * time.Second)
		}
	case "apt":
		if b.Prefix == "" {
			b.Prefix = "/apt/"
		}
		if b.MirrorURL == "" {
			b.MirrorURL = "http://archive.ubuntu.com/ubuntu"
		}
		if b.UserAgent == "" {
			b.UserAgent = "Artifact-Vault APT Backend/1.0"
		}
	}

	b.Prefix = NormalizePrefix(b.Prefix)
}

// NormalizePrefix 将前缀规范为 /x/ 形式，保证匹配与缓存键的一致性。
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return prefix
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix
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
