package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{404, KindNotFound},
		{401, KindAuthFailed},
		{403, KindAuthFailed},
		{500, KindNetwork},
		{429, KindNetwork},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.status, "http://upstream/x"); got.Kind != tc.kind {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.kind, got.Kind)
		}
	}
}

func TestClassifyTimeout(t *testing.T) {
	err := &url.Error{Op: "Get", URL: "http://upstream/x", Err: context.DeadlineExceeded}
	if got := Classify(err, "http://upstream/x"); got.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %s", got.Kind)
	}
	if got := Classify(context.DeadlineExceeded, "http://upstream/x"); got.Kind != KindTimeout {
		t.Fatalf("expected timeout for bare deadline, got %s", got.Kind)
	}
}

func TestClassifyGenericNetwork(t *testing.T) {
	if got := Classify(errors.New("connection refused"), "http://upstream/x"); got.Kind != KindNetwork {
		t.Fatalf("expected network, got %s", got.Kind)
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	typed := Errf(KindInvalidPath, "bad path")
	if got := Classify(typed, "x"); got != typed {
		t.Fatalf("typed errors must pass through unchanged")
	}
	wrapped := fmt.Errorf("outer: %w", Errf(KindNotFound, "inner"))
	if got := Classify(wrapped, "x"); got.Kind != KindNotFound {
		t.Fatalf("expected unwrap to not_found, got %s", got.Kind)
	}
}

func TestErrorIsComparesKind(t *testing.T) {
	a := Errf(KindNotFound, "a")
	b := Errf(KindNotFound, "b")
	if !errors.Is(a, b) {
		t.Fatalf("errors of the same kind should match")
	}
	c := Errf(KindTimeout, "c")
	if errors.Is(a, c) {
		t.Fatalf("different kinds must not match")
	}
}

func TestWrapErrKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapErr(KindCacheIO, cause, "write %s", "entry")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
	if err.Kind != KindCacheIO {
		t.Fatalf("kind mismatch: %s", err.Kind)
	}
}
