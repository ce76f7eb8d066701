// Package huggingface 实现模型/数据集下载引擎。上游通常先返回 301/302 把
// 下载指向 CDN，引擎自己读取 Location 逐跳跟进并记录重定向链；一旦跳转目标
// 的 host 与初始请求不同，立即剥离 Authorization——令牌只属于源站，绝不能
// 泄漏给镜像 CDN。大模型文件按 1 MiB 分块流式转发。
package huggingface

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

func init() {
	backend.MustRegister("huggingface", New)
}

// 模型权重动辄数 GiB，块放大到 1 MiB 降低通道往返开销。
const largeFileChunkSize = 1 << 20

// fileRef 是解析后的文件坐标。filename 可含多级子目录。
type fileRef struct {
	isDataset bool
	org       string
	name      string
	revision  string
	filename  string
}

type Engine struct {
	name         string
	prefix       string
	baseURL      string
	token        string
	maxRedirects int
	timeout      time.Duration
	client       *http.Client
	logger       *logrus.Logger
	pipeline     *backend.Pipeline
}

func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = deps.Timeout
	}

	// 重定向链必须由引擎自己掌控，transport 层禁止自动跟随。
	client := &http.Client{
		Transport: deps.Client.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Engine{
		name:         cfg.DisplayName(),
		prefix:       cfg.Prefix,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		maxRedirects: cfg.MaxRedirects,
		timeout:      timeout,
		client:       client,
		logger:       deps.Logger,
		pipeline: &backend.Pipeline{
			Store:     deps.Store,
			Logger:    deps.Logger,
			Backend:   cfg.DisplayName(),
			ChunkSize: largeFileChunkSize,
		},
	}, nil
}

func (e *Engine) Name() string   { return e.name }
func (e *Engine) Type() string   { return "huggingface" }
func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) CanHandle(path string) bool {
	return backend.MatchPrefix(e.prefix, path)
}

func (e *Engine) Fetch(ctx context.Context, path string) <-chan backend.Chunk {
	artifactPath := backend.StripPrefix(e.prefix, path)
	locator := cache.Locator{Prefix: e.prefix, Path: artifactPath}

	return e.pipeline.Run(ctx, locator, func(ctx context.Context) (*backend.RemoteObject, *backend.Error) {
		ref, ok := parseFilePath(artifactPath)
		if !ok {
			return nil, backend.Errf(backend.KindInvalidPath, "invalid model file path: %s", artifactPath)
		}
		return e.followAndFetch(ctx, e.buildURL(ref))
	})
}

func (e *Engine) buildURL(ref fileRef) string {
	segments := []string{e.baseURL}
	if ref.isDataset {
		segments = append(segments, "datasets")
	}
	segments = append(segments, ref.org, ref.name, "resolve", ref.revision)
	if ref.filename != "" {
		segments = append(segments, ref.filename)
	}
	return strings.Join(segments, "/")
}

// parseFilePath 拆解两种路径形态：
//
//	{org}/{name}/{resolve|blob}/{revision}/{filename...}
//	datasets/{org}/{name}/{resolve|blob}/{revision}/{filename...}
//
// blob 与 resolve 指向同一份内容，统一按 resolve 取数。
func parseFilePath(artifactPath string) (fileRef, bool) {
	parts := strings.Split(strings.Trim(artifactPath, "/"), "/")

	ref := fileRef{}
	if len(parts) > 0 && parts[0] == "datasets" {
		ref.isDataset = true
		parts = parts[1:]
	}
	if len(parts) < 4 {
		return fileRef{}, false
	}
	action := parts[2]
	if action != "resolve" && action != "blob" {
		return fileRef{}, false
	}
	ref.org = parts[0]
	ref.name = parts[1]
	ref.revision = parts[3]
	if ref.org == "" || ref.name == "" || ref.revision == "" {
		return fileRef{}, false
	}
	if len(parts) > 4 {
		ref.filename = strings.Join(parts[4:], "/")
	}
	return ref, true
}
