package server

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/logging"
)

// Handler 把后端的 Chunk 流渲染为 HTTP 响应：首块决定成败——
// 终止错误块映射为对应状态码的 JSON，数据块则以 200 开始流式下发。
type Handler struct {
	logger *logrus.Logger
}

// NewHandler constructs the chunk-to-HTTP renderer with a shared logger.
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{logger: logger}
}

// Serve 针对单个后端执行一次完整的取数与下发。
func (h *Handler) Serve(c fiber.Ctx, b backend.Backend) error {
	started := time.Now()
	requestID := RequestID(c)
	path := string(c.Request().URI().Path())

	ctx, cancel := context.WithCancel(c.Context())
	chunks := b.Fetch(ctx, path)

	first, ok := <-chunks
	if !ok {
		// 实现约定下不应出现：流未产出任何块即关闭。
		cancel()
		h.logRequest(c, b, requestID, fiber.StatusInternalServerError, 0, started)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "empty_stream",
		})
	}

	if first.Err != nil {
		cancel()
		status := statusForKind(first.Err.Kind)
		h.logger.WithError(first.Err).WithFields(logrus.Fields{
			"action":     "proxy_fetch",
			"backend":    b.Name(),
			"path":       path,
			"kind":       string(first.Err.Kind),
			"request_id": requestID,
		}).Warn("fetch failed")
		h.logRequest(c, b, requestID, status, 0, started)
		return c.Status(status).JSON(fiber.Map{
			"error":   string(first.Err.Kind),
			"message": first.Err.Message,
		})
	}

	contentType := first.ContentType
	if contentType == "" {
		contentType = backend.DefaultContentType
	}
	c.Response().Header.SetContentType(contentType)
	c.Status(fiber.StatusOK)

	// TotalLength 已知时保留 Content-Length，未知时退化为 chunked 传输。
	size := -1
	if first.TotalLength >= 0 {
		size = int(first.TotalLength)
	}
	stream := &chunkBodyStream{
		pending: first.Content,
		chunks:  chunks,
		cancel:  cancel,
		logger:  h.logger,
		backend: b.Name(),
		path:    path,
	}
	c.Response().SetBodyStream(stream, size)

	h.logRequest(c, b, requestID, fiber.StatusOK, first.TotalLength, started)
	return nil
}

func (h *Handler) logRequest(c fiber.Ctx, b backend.Backend, requestID string, status int, length int64, started time.Time) {
	fields := logging.RequestFields(b.Name(), b.Prefix(), b.Type())
	fields["action"] = "proxy"
	fields["method"] = c.Method()
	fields["path"] = string(c.Request().URI().Path())
	fields["status"] = status
	fields["length"] = length
	fields["duration_ms"] = time.Since(started).Milliseconds()
	fields["request_id"] = requestID
	h.logger.WithFields(fields).Info("request served")
}

// statusForKind 把闭合错误分类映射到有界的 HTTP 状态码：
// 路径问题归客户端，上游问题一律 502，其余按内部错误处理。
func statusForKind(kind backend.Kind) int {
	switch kind {
	case backend.KindInvalidPath:
		return fiber.StatusBadRequest
	case backend.KindNotFound:
		return fiber.StatusNotFound
	case backend.KindAuthFailed, backend.KindNetwork, backend.KindTimeout, backend.KindTooManyRedirects:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// chunkBodyStream 把 Chunk 通道桥接为响应体 Reader。响应写出由 fasthttp
// 驱动，消费速度即客户端下载速度，背压经由无缓冲通道传导到上游读取。
// 流中途出现终止错误块时只能中断连接，状态码此刻已经发出。
type chunkBodyStream struct {
	pending []byte
	chunks  <-chan backend.Chunk
	cancel  context.CancelFunc
	logger  *logrus.Logger
	backend string
	path    string
}

func (s *chunkBodyStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		chunk, ok := <-s.chunks
		if !ok {
			return 0, io.EOF
		}
		if chunk.Err != nil {
			if s.logger != nil {
				s.logger.WithError(chunk.Err).WithFields(logrus.Fields{
					"action":  "proxy_stream",
					"backend": s.backend,
					"path":    s.path,
				}).Warn("stream aborted mid-response")
			}
			return 0, chunk.Err
		}
		s.pending = chunk.Content
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close 由响应写出方在结束或连接断开时调用，取消上下文让生产方停止回源。
func (s *chunkBodyStream) Close() error {
	s.cancel()
	return nil
}
