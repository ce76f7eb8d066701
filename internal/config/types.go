package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
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

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述全局运行时行为，所有后端共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"listen_port"`
	LogLevel        string   `mapstructure:"log_level"`
	LogFilePath     string   `mapstructure:"log_file"`
	LogMaxSize      int      `mapstructure:"log_max_size"`
	LogMaxBackups   int      `mapstructure:"log_max_backups"`
	LogCompress     bool     `mapstructure:"log_compress"`
	UpstreamTimeout Duration `mapstructure:"upstream_timeout"`
}

// CacheConfig 决定缓存条目的存放位置。backend 支持 fs（默认）与 s3。
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
}

// RegistrySourceConfig 描述 docker 后端优先级列表中的一个镜像源。
type RegistrySourceConfig struct {
	RegistryURL string `mapstructure:"registry_url"`
	AuthURL     string `mapstructure:"auth_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// HasCredentials 表示该源是否配置了完整的 Basic 凭证。
func (r RegistrySourceConfig) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// BackendConfig 是单个后端实例的配置。Prefix 为所有类型必填；
// 其余字段按 Type 取用，校验逻辑见 validation.go。
type BackendConfig struct {
	Type   string `mapstructure:"type"`
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`

	// http 通用透传
	BaseURL string `mapstructure:"base_url"`

	// pypi
	IndexURL    string `mapstructure:"index_url"`
	PackagesURL string `mapstructure:"packages_url"`

	// docker：单源字段与 repositories 列表二选一，列表顺序即回退优先级
	RegistryURL  string                 `mapstructure:"registry_url"`
	AuthURL      string                 `mapstructure:"auth_url"`
	Repositories []RegistrySourceConfig `mapstructure:"repositories"`

	// huggingface
	Token        string `mapstructure:"token"`
	MaxRedirects int    `mapstructure:"max_redirects"`

	// apt
	MirrorURL string `mapstructure:"mirror_url"`
	UserAgent string `mapstructure:"user_agent"`

	// 私有源共用的 Basic 凭证
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Timeout 覆盖全局 upstream_timeout。
	Timeout Duration `mapstructure:"timeout"`
}

// Config 是 YAML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Cache    CacheConfig     `mapstructure:"cache"`
	Backends []BackendConfig `mapstructure:"backends"`
}

// DisplayName 输出用于日志与错误信息的实例标识，未命名时退回前缀或类型。
func (b BackendConfig) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	if b.Prefix != "" {
		return b.Prefix
	}
	return b.Type
}

// HasCredentials 表示当前后端是否配置了完整的上游凭证。
func (b BackendConfig) HasCredentials() bool {
	return b.Username != "" && b.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (b BackendConfig) AuthMode() string {
	if b.HasCredentials() || b.Token != "" {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有后端的鉴权模式摘要，例如 pypi:anonymous。
func CredentialModes(backends []BackendConfig) []string {
	if len(backends) == 0 {
		return nil
	}
	result := make([]string, len(backends))
	for i, b := range backends {
		result[i] = fmt.Sprintf("%s:%s", b.DisplayName(), b.AuthMode())
	}
	return result
}
