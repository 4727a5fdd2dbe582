package page

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Document 已解析的 HTML 文件
type Document struct {
	root *html.Node
}

// ParseDocument 解析 HTML 文件
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseDocumentString 解析 HTML 字串
func ParseDocumentString(s string) (*Document, error) {
	return ParseDocument(strings.NewReader(s))
}

// Render 將文件序列化寫出
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String 將文件序列化為字串
func (d *Document) String() (string, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Images 收集符合選擇器的 img 元素。選擇器為空時選取全部。
func (d *Document) Images(selector string) []*Element {
	var elements []*Element

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "img") {
			el := NewElement(n)
			if el.matches(selector) {
				elements = append(elements, el)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)

	return elements
}
