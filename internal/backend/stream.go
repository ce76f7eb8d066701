package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/metrics"
)

// RemoteObject 描述一次已经就绪的上游响应，由各协议引擎的取数函数产出。
// 引擎负责完成自身协议（鉴权、重定向、多源回退）后把最终 2xx 响应体交给流水线。
type RemoteObject struct {
	Body io.ReadCloser
	// TotalLength 未知时为 -1。
	TotalLength int64
	ContentType string
}

// FetchFunc 执行协议特定的远端取数。失败必须折叠为闭合分类错误返回，
// 成功时返回的 Body 由流水线负责关闭。
type FetchFunc func(ctx context.Context) (*RemoteObject, *Error)

// Pipeline 封装所有引擎共享的 cache-through 流程：
// 先查缓存，命中则整体发出一块；未命中走远端取数，边发块边累积，
// 仅在无错读完后提交缓存。同键并发未命中会被串行化（single-flight）：
// 后到者等待先行者完成后直接命中其写入的条目。
type Pipeline struct {
	Store   cache.Store
	Logger  *logrus.Logger
	Backend string
	// ChunkSize 为 0 时使用 DefaultChunkSize。
	ChunkSize int

	mu       sync.Mutex
	inflight map[string]*flightLock
}

type flightLock struct {
	mu   sync.Mutex
	refs int
}

// Run 启动流水线，返回惰性 Chunk 流。通道无缓冲，消费方不取块时生产方阻塞在
// 上游读取之后，背压天然成立；ctx 取消后生产方停止读取并放弃缓存写入。
func (p *Pipeline) Run(ctx context.Context, locator cache.Locator, fetch FetchFunc) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		p.run(ctx, locator, fetch, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, locator cache.Locator, fetch FetchFunc, out chan<- Chunk) {
	if p.serveCached(ctx, locator, out, true) {
		return
	}

	unlock := p.lockKey(locatorKey(locator))
	defer unlock()

	// 拿到键锁后重查：并发未命中的先行者可能已经写好了条目。
	if p.serveCached(ctx, locator, out, false) {
		return
	}
	metrics.CacheMisses.WithLabelValues(p.Backend).Inc()

	remote, ferr := fetch(ctx)
	if ferr != nil {
		metrics.UpstreamErrors.WithLabelValues(p.Backend, string(ferr.Kind)).Inc()
		p.emit(ctx, out, Chunk{Err: ferr})
		return
	}
	defer remote.Body.Close()

	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var accumulated bytes.Buffer
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := remote.Body.Read(buf)
		if n > 0 {
			content := make([]byte, n)
			copy(content, buf[:n])
			accumulated.Write(content)
			sent += int64(n)
			chunk := Chunk{
				TotalLength:     remote.TotalLength,
				Content:         content,
				BytesDownloaded: sent,
				ContentType:     remote.ContentType,
			}
			if !p.emit(ctx, out, chunk) {
				// 客户端断开：停止上游读取，丢弃累积缓冲，绝不提交缓存。
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			streamErr := Classify(err, locator.Prefix+locator.Path)
			metrics.UpstreamErrors.WithLabelValues(p.Backend, string(streamErr.Kind)).Inc()
			p.emit(ctx, out, Chunk{Err: streamErr})
			return
		}
	}

	metrics.DownloadBytes.WithLabelValues(p.Backend).Add(float64(sent))
	p.commit(ctx, locator, accumulated.Bytes(), remote.ContentType)
}

// serveCached 尝试命中缓存并把完整内容作为单块发出。countHit 控制指标计数，
// 避免锁后重查把同一次请求的命中记两遍。
func (p *Pipeline) serveCached(ctx context.Context, locator cache.Locator, out chan<- Chunk, countHit bool) bool {
	result, err := p.Store.Get(ctx, locator)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && p.Logger != nil {
			p.Logger.WithError(err).WithFields(logrus.Fields{
				"action":  "cache_get",
				"backend": p.Backend,
				"path":    locator.Path,
			}).Warn("cache_get_failed")
		}
		return false
	}
	defer result.Reader.Close()

	content, err := io.ReadAll(result.Reader)
	if err != nil {
		// 读取途中条目被外部删除：降级为未命中重新回源。
		if p.Logger != nil {
			p.Logger.WithError(err).WithFields(logrus.Fields{
				"action":  "cache_read",
				"backend": p.Backend,
				"path":    locator.Path,
			}).Warn("cache_read_failed")
		}
		return false
	}

	if countHit {
		metrics.CacheHits.WithLabelValues(p.Backend).Inc()
	}

	p.emit(ctx, out, Chunk{
		TotalLength:     int64(len(content)),
		Content:         content,
		BytesDownloaded: int64(len(content)),
		ContentType:     result.Entry.ContentType,
	})
	return true
}

// commit 在全部块成功发出后写入缓存。写入失败只影响下次命中，
// 响应本身已经完整送达，因此仅记录日志与指标，不向调用方报错。
func (p *Pipeline) commit(ctx context.Context, locator cache.Locator, content []byte, contentType string) {
	if len(content) == 0 {
		return
	}
	_, err := p.Store.Put(ctx, locator, bytes.NewReader(content), cache.PutOptions{ContentType: contentType})
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(p.Backend, string(KindCacheIO)).Inc()
		if p.Logger != nil {
			p.Logger.WithError(err).WithFields(logrus.Fields{
				"action":  "cache_write",
				"backend": p.Backend,
				"path":    locator.Path,
			}).Warn("cache_write_failed")
		}
		return
	}
	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"action":  "cache_write",
			"backend": p.Backend,
			"path":    locator.Path,
			"bytes":   len(content),
		}).Debug("cached artifact")
	}
}

func (p *Pipeline) emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) lockKey(key string) func() {
	p.mu.Lock()
	if p.inflight == nil {
		p.inflight = make(map[string]*flightLock)
	}
	lock := p.inflight[key]
	if lock == nil {
		lock = &flightLock{}
		p.inflight[key] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.inflight, key)
		}
		p.mu.Unlock()
	}
}

func locatorKey(locator cache.Locator) string {
	return locator.Prefix + "::" + locator.Path
}
