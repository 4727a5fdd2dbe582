package page

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// 元素屬性標記
const (
	attrSrc         = "src"
	attrLazySrc     = "data-src"
	attrCompressed  = "data-compressed"
	attrOriginalSrc = "data-original-src"
	attrExempt      = "data-compress-ignore"
	attrStyle       = "style"
)

// dimStyle 處理期間的載入指示樣式
const dimStyle = "opacity: 0.5"

// Element 包裝 HTML 文件中的 <img> 節點。
// 生命週期由宿主文件持有，這裡只讀寫特定屬性。
type Element struct {
	node      *html.Node
	prevStyle string
}

// NewElement 包裝一個 img 節點
func NewElement(n *html.Node) *Element {
	return &Element{node: n}
}

// Attr 讀取屬性值，不存在時返回空字串
func (e *Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// HasAttr 檢查屬性是否存在
func (e *Element) HasAttr(name string) bool {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

// SetAttr 設置屬性值，已存在時覆寫
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr 移除屬性
func (e *Element) RemoveAttr(name string) {
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if !strings.EqualFold(a.Key, name) {
			attrs = append(attrs, a)
		}
	}
	e.node.Attr = attrs
}

// Src 元素的圖片來源
func (e *Element) Src() string {
	return e.Attr(attrSrc)
}

// SetSrc 回寫圖片來源
func (e *Element) SetSrc(src string) {
	e.SetAttr(attrSrc, src)
}

// Compressed 元素是否已標記為壓縮過
func (e *Element) Compressed() bool {
	return e.HasAttr(attrCompressed)
}

// MarkCompressed 標記元素已壓縮，並保存原始來源以便還原
func (e *Element) MarkCompressed(originalSrc string) {
	e.SetAttr(attrOriginalSrc, originalSrc)
	e.SetAttr(attrCompressed, "true")
}

// Exempt 元素是否被標記為豁免（例如 logo）
func (e *Element) Exempt() bool {
	return e.HasAttr(attrExempt)
}

// Loaded 元素是否已持有具體來源
func (e *Element) Loaded() bool {
	return e.Src() != ""
}

// PromoteLazySrc 將延遲載入的 data-src 提升為 src，至多一次。
// 提升成功返回 true；沒有 data-src 時返回 false。
func (e *Element) PromoteLazySrc() bool {
	lazy := e.Attr(attrLazySrc)
	if lazy == "" {
		return false
	}
	e.SetSrc(lazy)
	e.RemoveAttr(attrLazySrc)
	return true
}

// Dim 調暗元素作為載入指示
func (e *Element) Dim() {
	e.prevStyle = e.Attr(attrStyle)
	if e.prevStyle == "" {
		e.SetAttr(attrStyle, dimStyle)
		return
	}
	e.SetAttr(attrStyle, strings.TrimRight(e.prevStyle, "; ")+"; "+dimStyle)
}

// Restore 還原元素的不透明度
func (e *Element) Restore() {
	if e.prevStyle == "" {
		e.RemoveAttr(attrStyle)
		return
	}
	e.SetAttr(attrStyle, e.prevStyle)
}

// Render 序列化單一元素
func (e *Element) Render(w io.Writer) error {
	return html.Render(w, e.node)
}

// matches 檢查元素是否符合簡單選擇器（tag、.class、#id、tag.class）
func (e *Element) matches(selector string) bool {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == "img" {
		return true
	}

	if strings.HasPrefix(selector, "#") {
		return e.Attr("id") == selector[1:]
	}

	tag := selector
	class := ""
	if i := strings.IndexByte(selector, '.'); i >= 0 {
		tag = selector[:i]
		class = selector[i+1:]
	}
	if tag != "" && !strings.EqualFold(tag, e.node.Data) {
		return false
	}
	if class != "" {
		for _, c := range strings.Fields(e.Attr("class")) {
			if c == class {
				return true
			}
		}
		return false
	}
	return true
}
