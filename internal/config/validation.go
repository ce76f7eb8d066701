package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackendTypes = map[string]struct{}{
	"http":        {},
	"pypi":        {},
	"docker":      {},
	"huggingface": {},
	"apt":         {},
}

const supportedBackendTypeList = "http|pypi|docker|huggingface|apt"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("listen_port", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("upstream_timeout", "必须大于 0")
	}

	switch c.Cache.Backend {
	case "fs":
		if c.Cache.Dir == "" {
			return newFieldError("cache.dir", "不能为空")
		}
	case "s3":
		if c.Cache.S3Bucket == "" {
			return newFieldError("cache.s3_bucket", "不能为空")
		}
	default:
		return newFieldError("cache.backend", "仅支持 fs/s3")
	}

	if len(c.Backends) == 0 {
		return errors.New("至少需要配置一个后端")
	}

	seenPrefixes := map[string]struct{}{}
	for i := range c.Backends {
		b := &c.Backends[i]
		name := b.DisplayName()

		normalizedType := strings.ToLower(strings.TrimSpace(b.Type))
		if normalizedType == "" {
			return newFieldError(backendField(name, "type"), "不能为空")
		}
		if _, ok := supportedBackendTypes[normalizedType]; !ok {
			return newFieldError(backendField(name, "type"), "仅支持 "+supportedBackendTypeList)
		}
		b.Type = normalizedType

		if b.Prefix == "" || b.Prefix == "/" {
			return newFieldError(backendField(name, "prefix"), "不能为空")
		}
		if _, exists := seenPrefixes[b.Prefix]; exists {
			return newFieldError(backendField(name, "prefix"), "重复")
		}
		seenPrefixes[b.Prefix] = struct{}{}

		if (b.Username == "") != (b.Password == "") {
			return newFieldError(backendField(name, "username/password"), "必须同时提供或同时留空")
		}

		if err := validateBackendFields(b, name); err != nil {
			return err
		}
	}

	return nil
}

func validateBackendFields(b *BackendConfig, name string) error {
	switch b.Type {
	case "http":
		if b.BaseURL == "" {
			return newFieldError(backendField(name, "base_url"), "不能为空")
		}
		if err := validateUpstreamURL(b.BaseURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(name, "base_url"), err)
		}
	case "pypi":
		if err := validateUpstreamURL(b.IndexURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(name, "index_url"), err)
		}
		if err := validateUpstreamURL(b.PackagesURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(name, "packages_url"), err)
		}
	case "docker":
		if len(b.Repositories) > 0 {
			for idx, source := range b.Repositories {
				if source.RegistryURL == "" {
					return newFieldError(backendField(name, fmt.Sprintf("repositories[%d].registry_url", idx)), "不能为空")
				}
				if source.AuthURL == "" {
					return newFieldError(backendField(name, fmt.Sprintf("repositories[%d].auth_url", idx)), "不能为空")
				}
				if (source.Username == "") != (source.Password == "") {
					return newFieldError(backendField(name, fmt.Sprintf("repositories[%d].username/password", idx)), "必须同时提供或同时留空")
				}
			}
		} else if b.RegistryURL == "" || b.AuthURL == "" {
			return newFieldError(backendField(name, "registry_url/auth_url"), "不能为空")
		}
	case "huggingface":
		if err := validateUpstreamURL(b.BaseURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(name, "base_url"), err)
		}
		if b.MaxRedirects < 0 {
			return newFieldError(backendField(name, "max_redirects"), "不能为负数")
		}
	case "apt":
		if err := validateUpstreamURL(b.MirrorURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(name, "mirror_url"), err)
		}
	}
	return nil
}

func validateUpstreamURL(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无法解析: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
