package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
)

// manifest 请求的 Accept 列表，覆盖 v2 manifest、manifest list 与旧版 v1。
const manifestAcceptHeader = "application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.docker.distribution.manifest.list.v2+json, " +
	"application/vnd.docker.distribution.manifest.v1+prettyjws"

const (
	// 令牌响应缺少 expires_in 时按 Registry 规范的默认值处理。
	defaultTokenTTL = 5 * time.Minute
	// 过短的 expires_in 会导致同一次镜像拉取内反复取令牌，设下限兜底。
	minTokenTTL = time.Minute
)

// Source 代表回退链中的一个镜像源：一个 registry 地址加配套的令牌端点。
// 按 (repository, actions) 作用域缓存 bearer 令牌，过期或被 401 拒绝后重新获取。
type Source struct {
	registryURL string
	authURL     string
	username    string
	password    string
	timeout     time.Duration
	client      *http.Client
	logger      *logrus.Logger

	mu     sync.Mutex
	tokens map[string]bearerToken
}

type bearerToken struct {
	value     string
	expiresAt time.Time
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func newSource(registryURL, authURL, username, password string, timeout time.Duration, client *http.Client, logger *logrus.Logger) *Source {
	return &Source{
		registryURL: strings.TrimRight(registryURL, "/"),
		authURL:     strings.TrimRight(authURL, "/"),
		username:    username,
		password:    password,
		timeout:     timeout,
		client:      client,
		logger:      logger,
		tokens:      make(map[string]bearerToken),
	}
}

func scopeKey(repository string, actions []string) string {
	return fmt.Sprintf("repository:%s:%s", repository, strings.Join(actions, ","))
}

// acquireToken 返回作用域内可用的 bearer 令牌。缓存命中且未过期直接复用；
// 否则向令牌端点发起一次带可选 Basic 凭证的请求。取令牌失败不视为致命：
// 返回空串回落到匿名访问，公共仓库仍可工作。
func (s *Source) acquireToken(ctx context.Context, repository string, actions []string) (string, *backend.Error) {
	scope := scopeKey(repository, actions)

	s.mu.Lock()
	cached, ok := s.tokens[scope]
	s.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	query := url.Values{}
	query.Set("service", s.serviceName())
	query.Set("scope", scope)
	target := s.authURL + "/token?" + query.Encode()

	header := http.Header{}
	if s.username != "" && s.password != "" {
		header.Set("Authorization", backend.BasicAuth(s.username, s.password))
	}

	remote, ferr := backend.Get(ctx, s.client, target, header, s.timeout)
	if ferr != nil {
		if ferr.Kind == backend.KindAuthFailed {
			return "", ferr
		}
		// 匿名回落：令牌端点临时不可用时仍尝试直接访问 registry。
		if s.logger != nil {
			s.logger.WithError(ferr).WithFields(logrus.Fields{
				"action": "registry_token",
				"scope":  scope,
			}).Warn("token acquisition failed, falling back to anonymous")
		}
		return "", nil
	}
	defer remote.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(io.LimitReader(remote.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", backend.WrapErr(backend.KindNetwork, err, "decode token response from %s", s.authURL)
	}
	token := parsed.Token
	if token == "" {
		token = parsed.AccessToken
	}
	if token == "" {
		return "", nil
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	s.mu.Lock()
	s.tokens[scope] = bearerToken{value: token, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *Source) invalidateToken(repository string, actions []string) {
	s.mu.Lock()
	delete(s.tokens, scopeKey(repository, actions))
	s.mu.Unlock()
}

// serviceName 推导令牌请求的 service 参数：Docker Hub 的令牌端点要求固定的
// registry.docker.io，其余私有 registry 按其自身 host 填写。
func (s *Source) serviceName() string {
	if strings.Contains(s.authURL, "auth.docker.io") {
		return "registry.docker.io"
	}
	if parsed, err := url.Parse(s.registryURL); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return s.registryURL
}

// fetchArtifact 拉取一个 manifest 或 blob。首次 401 视为令牌过期：
// 作废缓存令牌、重新获取并重试一次，仍失败才返回 AuthFailed。
func (s *Source) fetchArtifact(ctx context.Context, ref artifactRef) (*backend.RemoteObject, *backend.Error) {
	actions := []string{"pull"}
	token, ferr := s.acquireToken(ctx, ref.repository, actions)
	if ferr != nil {
		return nil, ferr
	}

	remote, ferr := s.doFetch(ctx, ref, token)
	if ferr == nil || ferr.Kind != backend.KindAuthFailed {
		return remote, ferr
	}

	s.invalidateToken(ref.repository, actions)
	token, tokenErr := s.acquireToken(ctx, ref.repository, actions)
	if tokenErr != nil {
		return nil, tokenErr
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"action":     "registry_fetch",
			"repository": ref.repository,
		}).Debug("retrying with refreshed token")
	}
	return s.doFetch(ctx, ref, token)
}

func (s *Source) doFetch(ctx context.Context, ref artifactRef, token string) (*backend.RemoteObject, *backend.Error) {
	target := fmt.Sprintf("%s/v2/%s/%s/%s", s.registryURL, ref.repository, ref.resourceType, ref.identifier)

	header := http.Header{}
	if ref.resourceType == "manifests" {
		header.Set("Accept", manifestAcceptHeader)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return backend.Get(ctx, s.client, target, header, s.timeout)
}
