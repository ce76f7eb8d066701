package integration

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	_ "github.com/artifact-vault/artifact-vault/internal/backend/all"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
	"github.com/artifact-vault/artifact-vault/internal/server"
)

// newVaultApp 按生产启动顺序搭建完整应用：配置 → 存储 → 后端 → Fiber。
func newVaultApp(t *testing.T, backends []config.BackendConfig) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	built, err := backend.Build(backends, backend.Deps{
		Store:   store,
		Client:  server.NewUpstreamClient(),
		Logger:  logger,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("backend build error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Backends:   built,
		Handler:    server.NewHandler(logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app
}

func TestCacheFlowServesSecondRequestWithoutUpstream(t *testing.T) {
	var hits atomic.Int32
	payload := []byte("upstream payload for cache flow")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/artifacts/tool-1.2.3.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(payload)
	}))

	app := newVaultApp(t, []config.BackendConfig{{
		Type:    "http",
		Name:    "generic",
		Prefix:  "/generic/",
		BaseURL: upstream.URL + "/artifacts",
	}})

	doRequest := func() *http.Response {
		resp, err := app.Test(httptest.NewRequest("GET", "/generic/tool-1.2.3.tar.gz", nil))
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	// Miss -> upstream fetch
	resp := doRequest()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, payload) {
		t.Fatalf("unexpected body: %s", string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/gzip" {
		t.Fatalf("content type mismatch: %s", ct)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits.Load())
	}

	// 上游下线后命中缓存仍应可用。
	upstream.Close()

	resp2 := doRequest()
	if resp2.StatusCode != fiber.StatusOK {
		t.Fatalf("expected cached 200, got %d", resp2.StatusCode)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if !bytes.Equal(body2, payload) {
		t.Fatalf("cached body mismatch: %s", string(body2))
	}
	if hits.Load() != 1 {
		t.Fatalf("second request must not reach upstream, got %d hits", hits.Load())
	}
}

func TestCacheFlowUpstreamFailureIsNotCached(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("recovered"))
	}))
	defer upstream.Close()

	app := newVaultApp(t, []config.BackendConfig{{
		Type:    "http",
		Name:    "generic",
		Prefix:  "/generic/",
		BaseURL: upstream.URL,
	}})

	resp, err := app.Test(httptest.NewRequest("GET", "/generic/flaky.txt", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502 on upstream failure, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// 失败响应不得写入缓存，恢复后的第二次请求应重新回源。
	resp2, err := app.Test(httptest.NewRequest("GET", "/generic/flaky.txt", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp2.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 after upstream recovers, got %d", resp2.StatusCode)
	}
	body, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if string(body) != "recovered" {
		t.Fatalf("unexpected body: %s", string(body))
	}
	if hits.Load() != 2 {
		t.Fatalf("expected two upstream hits, got %d", hits.Load())
	}
}

func TestCacheFlowRoutesAcrossMultipleBackends(t *testing.T) {
	generic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("generic:" + r.URL.Path))
	}))
	defer generic.Close()

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mirror:" + r.URL.Path))
	}))
	defer mirror.Close()

	app := newVaultApp(t, []config.BackendConfig{
		{Type: "http", Name: "generic", Prefix: "/generic/", BaseURL: generic.URL},
		{Type: "apt", Name: "ubuntu", Prefix: "/ubuntu/", MirrorURL: mirror.URL},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/generic/file.bin", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "generic:/file.bin" {
		t.Fatalf("generic backend body mismatch: %s", string(body))
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/ubuntu/dists/jammy/Release", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "mirror:/dists/jammy/Release" {
		t.Fatalf("apt backend body mismatch: %s", string(body))
	}

	// 未映射前缀返回 404。
	resp, err = app.Test(httptest.NewRequest("GET", "/npm/left-pad", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unmapped prefix, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCacheFlowInvalidRegistryPathReturns400(t *testing.T) {
	app := newVaultApp(t, []config.BackendConfig{{
		Type:        "docker",
		Name:        "dockerhub",
		Prefix:      "/dockerhub/",
		RegistryURL: "https://registry.invalid",
		AuthURL:     "https://auth.invalid",
	}})

	resp, err := app.Test(httptest.NewRequest("GET", "/dockerhub/library/ubuntu", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed registry path, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(body, []byte("invalid_path")) {
		t.Fatalf("expected invalid_path error, got %s", string(body))
	}
}
