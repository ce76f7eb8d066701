package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind 是闭合的失败分类，协议引擎产生的一切失败都映射到这里，
// 传输库自身的错误类型不允许越过 Fetch 边界。
type Kind string

const (
	KindInvalidPath      Kind = "invalid_path"
	KindNotFound         Kind = "not_found"
	KindAuthFailed       Kind = "auth_failed"
	KindNetwork          Kind = "network_error"
	KindTimeout          Kind = "timeout"
	KindTooManyRedirects Kind = "too_many_redirects"
	KindCacheIO          Kind = "cache_io"
)

// Error 携带分类与上下文信息，作为 Chunk 的终止错误出现。
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按 Kind 比较，方便测试用 errors.Is 断言分类。
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Errf 构造指定分类的错误。
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr 构造带原因链的分类错误。
func WrapErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Classify 将传输层错误折叠进闭合分类：超时（含 ctx 截止）归为 KindTimeout，
// 其余连接/DNS/读取失败一律视为 KindNetwork。已分类的错误原样返回。
func Classify(err error, target string) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapErr(KindTimeout, err, "request to %s timed out", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapErr(KindTimeout, err, "request to %s timed out", target)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return WrapErr(KindTimeout, err, "request to %s timed out", target)
	}
	return WrapErr(KindNetwork, err, "request to %s failed", target)
}

// ClassifyStatus 把非 2xx 状态码映射到闭合分类。
func ClassifyStatus(status int, target string) *Error {
	switch {
	case status == 404:
		return Errf(KindNotFound, "%s returned 404", target)
	case status == 401 || status == 403:
		return Errf(KindAuthFailed, "%s returned %d", target, status)
	default:
		return Errf(KindNetwork, "%s returned unexpected status %d", target, status)
	}
}
