package pypi

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// linkRewriter 把指向上游文件仓库（如 files.pythonhosted.org）的下载链接
// 改写为本服务的 <prefix>packages/... 路径，使 pip 的后续下载同样走缓存。
type linkRewriter struct {
	prefix       string
	filesHost    string
	filesPath    string
	routeSegment string
}

func newLinkRewriter(prefix, packagesURL string) (*linkRewriter, error) {
	parsed, err := url.Parse(packagesURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid packages_url %q: %v", packagesURL, err)
	}
	return &linkRewriter{
		prefix:       prefix,
		filesHost:    parsed.Host,
		filesPath:    strings.TrimRight(parsed.Path, "/"),
		routeSegment: "packages/",
	}, nil
}

// rewritePage 解析整页 HTML 并改写所有下载相关属性后重新渲染。
func (r *linkRewriter) rewritePage(body []byte) ([]byte, error) {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	r.rewriteNode(node)

	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *linkRewriter) rewriteNode(n *html.Node) {
	if n.Type == html.ElementNode {
		r.rewriteAttributes(n)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		r.rewriteNode(child)
	}
}

func (r *linkRewriter) rewriteAttributes(n *html.Node) {
	for i, attr := range n.Attr {
		switch attr.Key {
		case "href", "data-dist-info-metadata", "data-core-metadata":
			if strings.HasPrefix(attr.Val, "http://") || strings.HasPrefix(attr.Val, "https://") {
				n.Attr[i].Val = r.rewriteURL(attr.Val)
			}
		}
	}
}

// rewriteURL 仅改写命中上游文件仓库 host+path 的绝对链接，
// 查询串与校验片段（#sha256=...）原样保留，其余链接不做任何改动。
func (r *linkRewriter) rewriteURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host != r.filesHost {
		return raw
	}
	rest := parsed.Path
	if r.filesPath != "" {
		if !strings.HasPrefix(rest, r.filesPath) {
			return raw
		}
		rest = strings.TrimPrefix(rest, r.filesPath)
	}
	local := url.URL{
		Path:     r.prefix + r.routeSegment + strings.TrimPrefix(rest, "/"),
		RawQuery: parsed.RawQuery,
		Fragment: parsed.Fragment,
	}
	return local.String()
}
