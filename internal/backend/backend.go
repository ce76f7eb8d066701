// Package backend 定义所有协议引擎共享的能力契约：CanHandle 做纯前缀匹配，
// Fetch 返回一次性的 Chunk 流。路由层只依赖本包，不感知具体协议。
package backend

import (
	"context"
	"strings"
)

// DefaultChunkSize 是流式下载的默认分块大小（8 KiB），与上游响应节奏对齐。
const DefaultChunkSize = 8 * 1024

// DefaultContentType 在上游未声明 Content-Type 时使用。
const DefaultContentType = "application/octet-stream"

// Chunk 是 Fetch 流中的最小单元：一段字节加上进度元信息。
// Err 非空表示该 Chunk 为终止块，其后不会再有任何数据，且本次下载不会写入缓存。
type Chunk struct {
	// TotalLength 是制品总长度，上游未给出 Content-Length 时为 -1。
	TotalLength int64
	// Content 为本块字节，终止错误块中为空。
	Content []byte
	// BytesDownloaded 是截至本块（含）累计发出的字节数，在单次 Fetch 内单调递增。
	BytesDownloaded int64
	// ContentType 仅保证在首块出现；为空时调用方应按 DefaultContentType 处理。
	ContentType string
	// Err 标记终止错误，类型见 errors.go 中的闭合错误分类。
	Err *Error
}

// Backend 是协议引擎的统一契约。实现必须保证 Fetch 返回的通道最终关闭，
// 且同一次调用内 Chunk 严格有序；ctx 取消后实现应尽快停止上游读取并放弃缓存写入。
type Backend interface {
	// Name 返回配置中的实例名，用于日志与指标标签。
	Name() string
	// Type 返回引擎类型键（http/pypi/docker/huggingface/apt）。
	Type() string
	// Prefix 返回路由前缀，形如 /pypi/。
	Prefix() string
	// CanHandle 做纯前缀匹配，不允许任何 I/O。
	CanHandle(path string) bool
	// Fetch 启动一次完整的协议流程（含缓存查找），返回惰性 Chunk 流。
	// 流不可重放：重新调用会重新执行包括缓存查找在内的全部步骤。
	Fetch(ctx context.Context, path string) <-chan Chunk
}

// MatchPrefix 是 CanHandle 的共享实现，各引擎直接复用。
func MatchPrefix(prefix, path string) bool {
	return strings.HasPrefix(path, prefix)
}

// StripPrefix 去掉路由前缀，返回制品相对路径。
func StripPrefix(prefix, path string) string {
	return strings.TrimPrefix(path, prefix)
}
