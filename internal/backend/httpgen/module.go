// Package httpgen 实现最朴素的通用 HTTP 透传引擎：
// 去掉路由前缀后直接拼到 base_url 下游取数，适合静态文件站等简单上游。
package httpgen

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

func init() {
	backend.MustRegister("http", New)
}

// Engine 是通用透传引擎实例，一个实例对应一条后端配置。
type Engine struct {
	name     string
	prefix   string
	baseURL  string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	pipeline *backend.Pipeline
}

// New 构造通用引擎。base_url 的尾部斜杠会被规整掉。
func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = deps.Timeout
	}
	return &Engine{
		name:     cfg.DisplayName(),
		prefix:   cfg.Prefix,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		client:   deps.Client,
		pipeline: &backend.Pipeline{
			Store:   deps.Store,
			Logger:  deps.Logger,
			Backend: cfg.DisplayName(),
		},
	}, nil
}

func (e *Engine) Name() string   { return e.name }
func (e *Engine) Type() string   { return "http" }
func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) CanHandle(path string) bool {
	return backend.MatchPrefix(e.prefix, path)
}

// Fetch 把前缀后的剩余路径原样映射到上游。
func (e *Engine) Fetch(ctx context.Context, path string) <-chan backend.Chunk {
	artifactPath := backend.StripPrefix(e.prefix, path)
	locator := cache.Locator{Prefix: e.prefix, Path: artifactPath}

	return e.pipeline.Run(ctx, locator, func(ctx context.Context) (*backend.RemoteObject, *backend.Error) {
		target := e.baseURL + "/" + artifactPath
		header := http.Header{}
		if e.username != "" && e.password != "" {
			header.Set("Authorization", backend.BasicAuth(e.username, e.password))
		}
		return backend.Get(ctx, e.client, target, header, e.timeout)
	})
}
