// Package apt 实现 Debian/Ubuntu 镜像引擎：前缀后的剩余路径原样拼到镜像根，
// 元数据（dists/...）与包文件（pool/...）走完全相同的逐字节透传，不做任何
// 结构解析或解压；GPG 签名文件同样原样经过，客户端的包校验链不受影响。
package apt

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
	backend.MustRegister("apt", New)
}

type Engine struct {
	name      string
	prefix    string
	mirrorURL string
	userAgent string
	username  string
	password  string
	timeout   time.Duration
	client    *http.Client
	pipeline  *backend.Pipeline
}

func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = deps.Timeout
	}
	return &Engine{
		name:      cfg.DisplayName(),
		prefix:    cfg.Prefix,
		mirrorURL: strings.TrimRight(cfg.MirrorURL, "/"),
		userAgent: cfg.UserAgent,
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   timeout,
		client:    deps.Client,
		pipeline: &backend.Pipeline{
			Store:   deps.Store,
			Logger:  deps.Logger,
			Backend: cfg.DisplayName(),
		},
	}, nil
}

func (e *Engine) Name() string   { return e.name }
func (e *Engine) Type() string   { return "apt" }
func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) CanHandle(path string) bool {
	return backend.MatchPrefix(e.prefix, path)
}

func (e *Engine) Fetch(ctx context.Context, path string) <-chan backend.Chunk {
	artifactPath := backend.StripPrefix(e.prefix, path)
	locator := cache.Locator{Prefix: e.prefix, Path: artifactPath}

	return e.pipeline.Run(ctx, locator, func(ctx context.Context) (*backend.RemoteObject, *backend.Error) {
		target := e.mirrorURL + "/" + artifactPath

		header := http.Header{}
		if e.userAgent != "" {
			header.Set("User-Agent", e.userAgent)
		}
		if e.username != "" && e.password != "" {
			header.Set("Authorization", backend.BasicAuth(e.username, e.password))
		}

		remote, ferr := backend.Get(ctx, e.client, target, header, e.timeout)
		if ferr != nil {
			return nil, ferr
		}
		remote.ContentType = contentTypeFor(artifactPath, remote.ContentType)
		return remote, nil
	})
}

// contentTypeFor 按扩展名推断仓库文件的类型；镜像服务器经常对 Packages.gz
// 之类的文件返回含糊的 Content-Type，本地推断的结果更可靠。
func contentTypeFor(path, upstream string) string {
	switch {
	case strings.HasSuffix(path, ".deb"):
		return "application/vnd.debian.binary-package"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(path, ".bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(path, ".gpg"), strings.HasSuffix(path, ".sig"):
		return "application/pgp-signature"
	case strings.Contains(path, "Packages"), strings.Contains(path, "Release"):
		return "text/plain"
	}
	if upstream != "" {
		return upstream
	}
	return backend.DefaultContentType
}
