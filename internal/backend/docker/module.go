// Package docker 实现容器 registry 引擎。一个引擎实例持有按优先级排序的
// 镜像源列表：逐个尝试取数，首个成功者胜出并进入缓存；全部失败时把最后
// 一个源的错误作为终止块对外（通常是公共兜底源，诊断价值最高）。
// 缓存键只依赖请求路径，与最终供数的源无关，命中后不再执行回退。
package docker

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

func init() {
	backend.MustRegister("docker", New)
}

// artifactRef 是解析后的制品坐标：{repository}/{manifests|blobs}/{identifier}。
type artifactRef struct {
	repository   string
	resourceType string
	identifier   string
}

type Engine struct {
	name     string
	prefix   string
	sources  []*Source
	logger   *logrus.Logger
	pipeline *backend.Pipeline
}

// New 构造 registry 引擎。repositories 列表与单源字段二选一，
// 单源写法等价于一元列表，兼容旧配置。
func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = deps.Timeout
	}

	sourceCfgs := cfg.Repositories
	if len(sourceCfgs) == 0 {
		sourceCfgs = []config.RegistrySourceConfig{{
			RegistryURL: cfg.RegistryURL,
			AuthURL:     cfg.AuthURL,
			Username:    cfg.Username,
			Password:    cfg.Password,
		}}
	}

	sources := make([]*Source, 0, len(sourceCfgs))
	for _, sc := range sourceCfgs {
		sources = append(sources, newSource(
			sc.RegistryURL, sc.AuthURL, sc.Username, sc.Password,
			timeout, deps.Client, deps.Logger,
		))
	}

	return &Engine{
		name:    cfg.DisplayName(),
		prefix:  cfg.Prefix,
		sources: sources,
		logger:  deps.Logger,
		pipeline: &backend.Pipeline{
			Store:   deps.Store,
			Logger:  deps.Logger,
			Backend: cfg.DisplayName(),
		},
	}, nil
}

func (e *Engine) Name() string   { return e.name }
func (e *Engine) Type() string   { return "docker" }
func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) CanHandle(path string) bool {
	return backend.MatchPrefix(e.prefix, path)
}

func (e *Engine) Fetch(ctx context.Context, path string) <-chan backend.Chunk {
	artifactPath := backend.StripPrefix(e.prefix, path)
	locator := cache.Locator{Prefix: e.prefix, Path: artifactPath}

	return e.pipeline.Run(ctx, locator, func(ctx context.Context) (*backend.RemoteObject, *backend.Error) {
		ref, ok := parseArtifactPath(artifactPath)
		if !ok {
			return nil, backend.Errf(backend.KindInvalidPath, "invalid registry artifact path: %s", artifactPath)
		}
		return e.fetchWithFallback(ctx, ref)
	})
}

// fetchWithFallback 按配置顺序尝试各源，首个成功立即返回；
// NotFound/AuthFailed/NetworkError/Timeout 都只是推进到下一个源的理由。
func (e *Engine) fetchWithFallback(ctx context.Context, ref artifactRef) (*backend.RemoteObject, *backend.Error) {
	var lastErr *backend.Error
	for i, source := range e.sources {
		remote, ferr := source.fetchArtifact(ctx, ref)
		if ferr == nil {
			if i > 0 && e.logger != nil {
				e.logger.WithFields(logrus.Fields{
					"action":     "registry_fallback",
					"backend":    e.name,
					"repository": ref.repository,
					"source":     source.registryURL,
				}).Info("artifact served by fallback source")
			}
			return remote, nil
		}
		lastErr = ferr
		if e.logger != nil {
			e.logger.WithError(ferr).WithFields(logrus.Fields{
				"action":     "registry_fetch",
				"backend":    e.name,
				"repository": ref.repository,
				"source":     source.registryURL,
			}).Debug("source failed, trying next")
		}
	}
	return nil, lastErr
}

// parseArtifactPath 校验并拆解 {repository}/{manifests|blobs}/{identifier}。
// repository 至少两段（含命名空间），更深的命名空间全部并入 repository。
func parseArtifactPath(artifactPath string) (artifactRef, bool) {
	parts := strings.Split(strings.Trim(artifactPath, "/"), "/")
	if len(parts) < 4 {
		return artifactRef{}, false
	}

	resourceType := parts[len(parts)-2]
	if resourceType != "manifests" && resourceType != "blobs" {
		return artifactRef{}, false
	}
	identifier := parts[len(parts)-1]
	if identifier == "" {
		return artifactRef{}, false
	}
	repository := strings.Join(parts[:len(parts)-2], "/")
	for _, segment := range parts[:len(parts)-2] {
		if segment == "" {
			return artifactRef{}, false
		}
	}
	return artifactRef{repository: repository, resourceType: resourceType, identifier: identifier}, true
}
