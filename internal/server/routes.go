package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/version"
)

// RegisterDiagnostics 挂载 /-/ 下的诊断接口：健康检查、后端清单与指标。
// 诊断路径不参与后端前缀匹配，不会与制品路径冲突。
func RegisterDiagnostics(app *fiber.App, backends []backend.Backend) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Version,
		})
	})

	app.Get("/-/backends", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"backends": encodeBackends(backends),
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

type backendPayload struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Prefix string `json:"prefix"`
}

func encodeBackends(backends []backend.Backend) []backendPayload {
	payload := make([]backendPayload, 0, len(backends))
	for _, b := range backends {
		payload = append(payload, backendPayload{
			Name:   b.Name(),
			Type:   b.Type(),
			Prefix: b.Prefix(),
		})
	}
	return payload
}
