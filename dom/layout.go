package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Rect is a box in viewport coordinates, like getBoundingClientRect.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no rendered area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Viewport describes the visible window over the document.
type Viewport struct {
	ScrollX float64 `json:"scrollX" yaml:"scroll_x"`
	ScrollY float64 `json:"scrollY" yaml:"scroll_y"`
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
}

// DefaultViewport is used when no renderer provides real metrics.
var DefaultViewport = Viewport{Width: 1280, Height: 800}

// Layout resolves the rendered box of an element.
type Layout interface {
	Box(n *html.Node) Rect
}

// MapLayout is a Layout backed by precomputed boxes, typically captured from
// a live browser. Unknown nodes have an empty box.
type MapLayout map[*html.Node]Rect

// Box implements Layout.
func (m MapLayout) Box(n *html.Node) Rect {
	return m[n]
}

var nonRenderedTags = map[string]struct{}{
	"head": {}, "script": {}, "style": {}, "template": {}, "noscript": {},
	"title": {}, "meta": {}, "link": {}, "base": {},
}

var replacedTags = map[string]struct{}{
	"img": {}, "input": {}, "select": {}, "textarea": {}, "button": {},
	"iframe": {}, "video": {}, "audio": {}, "canvas": {}, "svg": {},
	"object": {}, "embed": {}, "hr": {}, "progress": {}, "meter": {},
}

// Hidden reports whether the element itself is excluded from rendering by
// markup alone: non-rendered tags, the hidden attribute, display:none, and
// hidden inputs.
func Hidden(n *html.Node) bool {
	if !IsElement(n) {
		return false
	}
	tag := Tag(n)
	if _, ok := nonRenderedTags[tag]; ok {
		return true
	}
	if _, ok := Attr(n, "hidden"); ok {
		return true
	}
	if tag == "input" && strings.EqualFold(AttrOr(n, "type", ""), "hidden") {
		return true
	}
	if v, ok := styleValue(n, "display"); ok && v == "none" {
		return true
	}
	return false
}

// FlowLayout approximates rendering for documents parsed without a browser.
// Every element that carries visible text or a replaced element stacks as a
// full-width block; each text run takes one line. Inline width/height styles
// in px override the computed size.
type FlowLayout struct {
	LineHeight float64
	viewport   Viewport
	boxes      map[*html.Node]Rect
	line       int
}

// NewFlowLayout computes boxes for every element under root.
func NewFlowLayout(root *html.Node, vp Viewport) *FlowLayout {
	l := &FlowLayout{
		LineHeight: 20,
		viewport:   vp,
		boxes:      make(map[*html.Node]Rect),
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		l.place(c)
	}
	return l
}

// Box implements Layout.
func (l *FlowLayout) Box(n *html.Node) Rect {
	return l.boxes[n]
}

func (l *FlowLayout) place(n *html.Node) {
	if !IsElement(n) || Hidden(n) {
		return
	}
	start := l.line
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				l.line++
			}
		case html.ElementNode:
			l.place(c)
		}
	}
	if _, replaced := replacedTags[Tag(n)]; replaced && l.line == start {
		l.line++
	}

	box := Rect{
		Left:   0,
		Top:    float64(start)*l.LineHeight - l.viewport.ScrollY,
		Width:  l.viewport.Width,
		Height: float64(l.line-start) * l.LineHeight,
	}
	if l.line == start {
		box.Width = 0
	}
	if w, ok := stylePixels(n, "width"); ok {
		box.Width = w
	}
	if h, ok := stylePixels(n, "height"); ok {
		box.Height = h
	}
	l.boxes[n] = box
}

func styleValue(n *html.Node, prop string) (string, bool) {
	style, ok := Attr(n, "style")
	if !ok {
		return "", false
	}
	for _, decl := range strings.Split(style, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), prop) {
			v := strings.ToLower(strings.TrimSpace(value))
			v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
			return v, true
		}
	}
	return "", false
}

func stylePixels(n *html.Node, prop string) (float64, bool) {
	v, ok := styleValue(n, prop)
	if !ok || !strings.HasSuffix(v, "px") {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
