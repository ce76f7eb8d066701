package backend

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"
)

// Get 发出一次流式 GET 并把结果折叠为 RemoteObject / 分类错误。
// timeout 大于 0 时约束整个传输过程，到期按网络超时处理；
// 返回的 Body 关闭时会一并释放超时上下文。
func Get(ctx context.Context, client *http.Client, target string, header http.Header, timeout time.Duration) (*RemoteObject, *Error) {
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, WrapErr(KindNetwork, err, "build request for %s", target)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, Classify(err, target)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, ClassifyStatus(resp.StatusCode, target)
	}

	return &RemoteObject{
		Body:        bodyWithCancel{ReadCloser: resp.Body, cancel: cancel},
		TotalLength: resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// BasicAuth 构造 Basic 认证头的值。
func BasicAuth(username, password string) string {
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + credentials
}

type bodyWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b bodyWithCancel) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
