// Package pypi 实现 Python simple index 引擎：索引页从 index_url 取回并改写
// 下载链接指向本服务，分发文件从 packages_url 流式取回。两类内容都走同一条
// cache-through 流水线，pip 的发现与下载于是全部留在缓存域内。
package pypi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

func init() {
	backend.MustRegister("pypi", New)
}

// 索引页整页载入后才能改写链接，设置一个上限避免异常上游拖垮内存。
const maxIndexPageBytes = 32 << 20

type Engine struct {
	name        string
	prefix      string
	indexURL    string
	packagesURL string
	username    string
	password    string
	timeout     time.Duration
	client      *http.Client
	rewriter    *linkRewriter
	pipeline    *backend.Pipeline
}

func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = deps.Timeout
	}
	rewriter, err := newLinkRewriter(cfg.Prefix, cfg.PackagesURL)
	if err != nil {
		return nil, err
	}
	return &Engine{
		name:        cfg.DisplayName(),
		prefix:      cfg.Prefix,
		indexURL:    strings.TrimRight(cfg.IndexURL, "/"),
		packagesURL: strings.TrimRight(cfg.PackagesURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		timeout:     timeout,
		client:      deps.Client,
		rewriter:    rewriter,
		pipeline: &backend.Pipeline{
			Store:   deps.Store,
			Logger:  deps.Logger,
			Backend: cfg.DisplayName(),
		},
	}, nil
}

func (e *Engine) Name() string   { return e.name }
func (e *Engine) Type() string   { return "pypi" }
func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) CanHandle(path string) bool {
	return backend.MatchPrefix(e.prefix, path)
}

func (e *Engine) Fetch(ctx context.Context, path string) <-chan backend.Chunk {
	artifactPath := backend.StripPrefix(e.prefix, path)
	locator := cache.Locator{Prefix: e.prefix, Path: artifactPath}

	target, isIndexPage := e.resolveTarget(artifactPath)
	return e.pipeline.Run(ctx, locator, func(ctx context.Context) (*backend.RemoteObject, *backend.Error) {
		if isIndexPage {
			return e.fetchIndexPage(ctx, target)
		}
		return backend.Get(ctx, e.client, target, e.authHeader(), e.timeout)
	})
}

// resolveTarget 区分 simple 索引页与分发文件两条上游路线：
//   - simple/           -> index_url（整包索引）
//   - simple/<name>/    -> index_url/<name>/（含下载链接，需要改写）
//   - packages/...      -> packages_url/...（wheel、tarball 流式下载）
//   - 其余路径按直接文件处理，兜底走 packages_url。
func (e *Engine) resolveTarget(artifactPath string) (target string, isIndexPage bool) {
	trimmed := strings.Trim(artifactPath, "/")
	parts := strings.Split(trimmed, "/")

	if trimmed == "" {
		return e.indexURL + "/", true
	}
	if parts[0] == "simple" {
		switch len(parts) {
		case 1:
			return e.indexURL + "/", true
		case 2:
			return e.indexURL + "/" + parts[1] + "/", true
		}
	}
	if parts[0] == "packages" {
		return e.packagesURL + "/" + strings.Join(parts[1:], "/"), false
	}
	return e.packagesURL + "/" + trimmed, false
}

// fetchIndexPage 整页取回索引 HTML、改写下载链接后折叠为一次性 RemoteObject。
// 改写后的字节才是对外与入缓存的内容，后续命中无需重复改写。
func (e *Engine) fetchIndexPage(ctx context.Context, target string) (*backend.RemoteObject, *backend.Error) {
	remote, ferr := backend.Get(ctx, e.client, target, e.authHeader(), e.timeout)
	if ferr != nil {
		return nil, ferr
	}
	defer remote.Body.Close()

	body, err := io.ReadAll(io.LimitReader(remote.Body, maxIndexPageBytes))
	if err != nil {
		return nil, backend.Classify(err, target)
	}

	rewritten, err := e.rewriter.rewritePage(body)
	if err != nil {
		return nil, backend.WrapErr(backend.KindNetwork, err, "rewrite index page %s", target)
	}

	contentType := remote.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &backend.RemoteObject{
		Body:        io.NopCloser(strings.NewReader(string(rewritten))),
		TotalLength: int64(len(rewritten)),
		ContentType: contentType,
	}, nil
}

func (e *Engine) authHeader() http.Header {
	header := http.Header{}
	if e.username != "" && e.password != "" {
		header.Set("Authorization", backend.BasicAuth(e.username, e.password))
	}
	return header
}
