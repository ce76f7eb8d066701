package apt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

func newTestEngine(t *testing.T, cfg config.BackendConfig) (backend.Backend, cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := New(cfg, backend.Deps{Store: store, Client: &http.Client{}, Logger: logger})
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	return engine, store
}

func drain(t *testing.T, chunks <-chan backend.Chunk) ([]byte, *backend.Chunk) {
	t.Helper()
	var body []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			errChunk := chunk
			return body, &errChunk
		}
		body = append(body, chunk.Content...)
	}
	return body, nil
}

func TestMirrorPassthrough(t *testing.T) {
	var requestedPath, seenUA string
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		seenUA = r.Header.Get("User-Agent")
		w.Write([]byte("Suite: jammy"))
	}))
	defer mirror.Close()

	engine, store := newTestEngine(t, config.BackendConfig{
		Type:      "apt",
		Name:      "ubuntu",
		Prefix:    "/ubuntu/",
		MirrorURL: mirror.URL + "/ubuntu",
		UserAgent: "Artifact-Vault APT Backend/1.0",
	})

	body, errChunk := drain(t, engine.Fetch(context.Background(), "/ubuntu/dists/jammy/Release"))
	if errChunk != nil {
		t.Fatalf("unexpected error chunk: %v", errChunk.Err)
	}
	if string(body) != "Suite: jammy" {
		t.Fatalf("payload mismatch: %s", string(body))
	}
	if requestedPath != "/ubuntu/dists/jammy/Release" {
		t.Fatalf("upstream path mismatch: %s", requestedPath)
	}
	if seenUA != "Artifact-Vault APT Backend/1.0" {
		t.Fatalf("user agent mismatch: %s", seenUA)
	}

	// 缓存键使用 (前缀, 去前缀后的剩余路径)。
	locator := cache.Locator{Prefix: "/ubuntu/", Path: "dists/jammy/Release"}
	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("expected cached entry under canonical key: %v", err)
	}
	result.Reader.Close()
}

func TestSignatureFilePassedVerbatim(t *testing.T) {
	signature := []byte("-----BEGIN PGP SIGNATURE-----\nabc\n-----END PGP SIGNATURE-----\n")
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(signature)
	}))
	defer mirror.Close()

	engine, _ := newTestEngine(t, config.BackendConfig{
		Type:      "apt",
		Prefix:    "/ubuntu/",
		MirrorURL: mirror.URL,
	})

	body, errChunk := drain(t, engine.Fetch(context.Background(), "/ubuntu/dists/jammy/Release.gpg"))
	if errChunk != nil {
		t.Fatalf("unexpected error chunk: %v", errChunk.Err)
	}
	if string(body) != string(signature) {
		t.Fatalf("signature bytes altered in transit")
	}
}

func TestBasicAuthAttached(t *testing.T) {
	seen := make(chan string, 1)
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer mirror.Close()

	engine, _ := newTestEngine(t, config.BackendConfig{
		Type:      "apt",
		Prefix:    "/ubuntu/",
		MirrorURL: mirror.URL,
		Username:  "mirror-user",
		Password:  "mirror-pass",
	})

	if _, errChunk := drain(t, engine.Fetch(context.Background(), "/ubuntu/dists/jammy/Release")); errChunk != nil {
		t.Fatalf("unexpected error chunk: %v", errChunk.Err)
	}
	if got := <-seen; got != backend.BasicAuth("mirror-user", "mirror-pass") {
		t.Fatalf("missing basic auth header, got %q", got)
	}
}

func TestMissingFileYieldsNotFound(t *testing.T) {
	mirror := httptest.NewServer(http.NotFoundHandler())
	defer mirror.Close()

	engine, store := newTestEngine(t, config.BackendConfig{
		Type:      "apt",
		Prefix:    "/ubuntu/",
		MirrorURL: mirror.URL,
	})

	_, errChunk := drain(t, engine.Fetch(context.Background(), "/ubuntu/pool/main/n/nonexistent.deb"))
	if errChunk == nil || errChunk.Err.Kind != backend.KindNotFound {
		t.Fatalf("expected not_found, got %+v", errChunk)
	}
	locator := cache.Locator{Prefix: "/ubuntu/", Path: "pool/main/n/nonexistent.deb"}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("404 must not be cached, got %v", err)
	}
}

func TestContentTypeBySuffix(t *testing.T) {
	cases := []struct {
		path     string
		upstream string
		want     string
	}{
		{"pool/main/h/hello/hello_2.10.deb", "", "application/vnd.debian.binary-package"},
		{"dists/jammy/main/binary-amd64/Packages.gz", "application/octet-stream", "application/gzip"},
		{"dists/jammy/main/binary-amd64/Packages.xz", "", "application/x-xz"},
		{"dists/jammy/main/source/Sources.bz2", "", "application/x-bzip2"},
		{"dists/jammy/Release.gpg", "", "application/pgp-signature"},
		{"dists/jammy/InRelease.sig", "", "application/pgp-signature"},
		{"dists/jammy/Release", "", "text/plain"},
		{"dists/jammy/main/binary-amd64/Packages", "", "text/plain"},
		{"unknown/file.bin", "application/x-custom", "application/x-custom"},
		{"unknown/file.bin", "", backend.DefaultContentType},
	}
	for _, tc := range cases {
		if got := contentTypeFor(tc.path, tc.upstream); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.path, tc.want, got)
		}
	}
}
