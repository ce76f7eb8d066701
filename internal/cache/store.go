package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 管理制品缓存的读写。磁盘布局遵循：
//
//	<root>/<prefix>/<artifact_path>.binary        # 正文
//	<root>/<prefix>/<artifact_path>.content_type  # 可选的 Content-Type 边值
//
// 条目没有 TTL：存在即有效，清理完全交给外部运维操作。
type Store interface {
	// Get 返回可流式读取的缓存条目。不存在（含查找与读取之间被外部删除的竞态）
	// 一律返回 ErrNotFound，调用方按未命中处理。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将完整下载的正文原子地写入缓存。消费方永远不会观察到半写条目；
	// 覆盖已有键同样原子完成。实现需按需创建前缀目录结构。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文与边值，不存在时静默成功。
	Remove(ctx context.Context, locator Locator) error
}

// Locator 唯一定位一个缓存条目：后端前缀 + 制品相对路径。
// 前缀划分使各后端的键空间互不干扰，同一个 Store 实例可被所有后端共享。
type Locator struct {
	Prefix string
	Path   string
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	// ContentType 为空时不落边值文件，读取方按默认二进制类型处理。
	ContentType string
	ModTime     time.Time
}

// Entry 描述一个已存在的缓存条目。
type Entry struct {
	Locator     Locator
	SizeBytes   int64
	ContentType string
	ModTime     time.Time
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责 Close。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
