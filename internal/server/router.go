package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
)

// ArtifactHandler describes the component that renders a backend's chunk
// stream into the HTTP response. It allows injecting fake handlers in tests.
type ArtifactHandler interface {
	Serve(fiber.Ctx, backend.Backend) error
}

// ArtifactHandlerFunc adapts a function to the ArtifactHandler interface.
type ArtifactHandlerFunc func(fiber.Ctx, backend.Backend) error

// Serve makes ArtifactHandlerFunc satisfy ArtifactHandler.
func (f ArtifactHandlerFunc) Serve(c fiber.Ctx, b backend.Backend) error {
	return f(c, b)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Backends   []backend.Backend
	Handler    ArtifactHandler
	ListenPort int
}

const contextKeyRequestID = "_vault_request_id"

// NewApp builds the Fiber application: recover + request-ID middleware,
// diagnostics routes under /-/, and ordered first-prefix-match dispatch
// across the configured backends.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(opts.Backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("artifact handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	RegisterDiagnostics(app, opts.Backends)

	app.All("/*", func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) {
			return c.Next()
		}
		matched := selectBackend(opts.Backends, path)
		if matched == nil {
			return renderBackendUnmapped(c, opts.Logger, path)
		}
		return opts.Handler.Serve(c, matched)
	})

	return app, nil
}

// selectBackend 按配置顺序做首个前缀匹配，顺序即优先级。
func selectBackend(backends []backend.Backend, path string) backend.Backend {
	for _, b := range backends {
		if b.CanHandle(path) {
			return b
		}
	}
	return nil
}

func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderBackendUnmapped(c fiber.Ctx, logger *logrus.Logger, path string) error {
	logger.WithFields(logrus.Fields{
		"action": "backend_lookup",
		"path":   path,
	}).Warn("no backend claims path")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "backend_unmapped",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
