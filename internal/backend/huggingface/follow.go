package huggingface

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/backend"
)

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// followAndFetch 手工执行重定向链直到拿到最终 2xx 响应。
// Authorization 只在目标 host 与初始请求一致时携带；跨 host 跳转一律剥离。
// 跳数超过 max_redirects 返回 TooManyRedirects，链中任何非 2xx 非重定向
// 状态按统一规则折叠为分类错误。
func (e *Engine) followAndFetch(ctx context.Context, target string) (*backend.RemoteObject, *backend.Error) {
	cancel := func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}

	currentURL, err := url.Parse(target)
	if err != nil {
		cancel()
		return nil, backend.WrapErr(backend.KindNetwork, err, "invalid upstream url %s", target)
	}
	originalHost := currentURL.Host

	redirects := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL.String(), nil)
		if err != nil {
			cancel()
			return nil, backend.WrapErr(backend.KindNetwork, err, "build request for %s", currentURL)
		}
		if e.token != "" && currentURL.Host == originalHost {
			req.Header.Set("Authorization", "Bearer "+e.token)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			cancel()
			return nil, backend.Classify(err, target)
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				cancel()
				return nil, backend.Errf(backend.KindNetwork, "redirect without Location from %s", currentURL)
			}
			next, err := currentURL.Parse(location)
			if err != nil {
				cancel()
				return nil, backend.WrapErr(backend.KindNetwork, err, "invalid redirect target from %s", currentURL)
			}

			redirects++
			if redirects > e.maxRedirects {
				cancel()
				return nil, backend.Errf(backend.KindTooManyRedirects,
					"redirect chain exceeded %d hops for %s", e.maxRedirects, target)
			}
			if e.logger != nil {
				e.logger.WithFields(logrus.Fields{
					"action":   "follow_redirect",
					"backend":  e.name,
					"from":     currentURL.String(),
					"to":       next.String(),
					"hop":      redirects,
					"stripped": next.Host != originalHost,
				}).Debug("following redirect")
			}
			currentURL = next
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return &backend.RemoteObject{
				Body:        cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
				TotalLength: resp.ContentLength,
				ContentType: resp.Header.Get("Content-Type"),
			}, nil
		}

		status := resp.StatusCode
		resp.Body.Close()
		cancel()
		return nil, backend.ClassifyStatus(status, currentURL.String())
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
