package pypi

import (
	"strings"
	"testing"
)

func newTestRewriter(t *testing.T) *linkRewriter {
	t.Helper()
	r, err := newLinkRewriter("/pypi/", "https://files.pythonhosted.org/packages")
	if err != nil {
		t.Fatalf("rewriter error: %v", err)
	}
	return r
}

func TestRewritePageRewritesDownloadLinks(t *testing.T) {
	r := newTestRewriter(t)
	page := []byte(`<html><body>
<a href="https://files.pythonhosted.org/packages/a1/b2/requests-2.28.1.tar.gz#sha256=deadbeef">requests-2.28.1.tar.gz</a>
<a href="https://files.pythonhosted.org/packages/py3/r/requests/requests-2.28.1-py3-none-any.whl">wheel</a>
</body></html>`)

	out, err := r.rewritePage(page)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, `href="/pypi/packages/a1/b2/requests-2.28.1.tar.gz#sha256=deadbeef"`) {
		t.Fatalf("sdist link not rewritten with fragment preserved: %s", html)
	}
	if !strings.Contains(html, `href="/pypi/packages/py3/r/requests/requests-2.28.1-py3-none-any.whl"`) {
		t.Fatalf("wheel link not rewritten: %s", html)
	}
	if strings.Contains(html, "files.pythonhosted.org") {
		t.Fatalf("upstream host leaked into rewritten page: %s", html)
	}
}

func TestRewritePageLeavesForeignLinksAlone(t *testing.T) {
	r := newTestRewriter(t)
	page := []byte(`<html><body>
<a href="https://example.com/other.tar.gz">other</a>
<a href="../simple/requests/">relative</a>
</body></html>`)

	out, err := r.rewritePage(page)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, `href="https://example.com/other.tar.gz"`) {
		t.Fatalf("foreign absolute link was modified: %s", html)
	}
	if !strings.Contains(html, `href="../simple/requests/"`) {
		t.Fatalf("relative link was modified: %s", html)
	}
}

func TestRewritePageRewritesMetadataAttributes(t *testing.T) {
	r := newTestRewriter(t)
	page := []byte(`<a href="https://files.pythonhosted.org/packages/x/y.whl" ` +
		`data-core-metadata="https://files.pythonhosted.org/packages/x/y.whl.metadata">y</a>`)

	out, err := r.rewritePage(page)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, `data-core-metadata="/pypi/packages/x/y.whl.metadata"`) {
		t.Fatalf("metadata attribute not rewritten: %s", html)
	}
}

func TestRewriteURLHonorsCustomPackagesRoot(t *testing.T) {
	r, err := newLinkRewriter("/internal-pypi/", "https://mirror.corp.example/pypi-files/packages")
	if err != nil {
		t.Fatalf("rewriter error: %v", err)
	}
	got := r.rewriteURL("https://mirror.corp.example/pypi-files/packages/a/b.whl?x=1")
	if got != "/internal-pypi/packages/a/b.whl?x=1" {
		t.Fatalf("unexpected rewrite: %s", got)
	}
	// 同 host 但不在 packages 根之下的链接保持原样。
	untouched := "https://mirror.corp.example/docs/index.html"
	if got := r.rewriteURL(untouched); got != untouched {
		t.Fatalf("non-packages link was modified: %s", got)
	}
}
