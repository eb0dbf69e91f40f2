// Package dom holds the per-document state every awtomato operation runs
// against: the parsed tree, node identities, and the layout used to decide
// what is visible.
package dom

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultLandingAreaID marks the root of the extension's own injected UI.
const DefaultLandingAreaID = "awtomato-landing-area"

// ErrNotFound is returned when a node id does not resolve in the frame.
var ErrNotFound = errors.New("dom: node not found")

// Frame is one execution context over one loaded document. Navigation
// produces a new Frame; nothing carries over.
type Frame struct {
	Root          *html.Node
	Registry      *Registry
	Layout        Layout
	Viewport      Viewport
	LandingAreaID string
	URL           *url.URL
}

// Option customises a Frame.
type Option func(*Frame)

// WithLayout sets the layout. Without it a FlowLayout is computed.
func WithLayout(l Layout) Option { return func(f *Frame) { f.Layout = l } }

// WithViewport sets scroll offsets and viewport size.
func WithViewport(vp Viewport) Option { return func(f *Frame) { f.Viewport = vp } }

// WithLandingArea overrides the reserved id of the injected UI root.
func WithLandingArea(id string) Option { return func(f *Frame) { f.LandingAreaID = id } }

// WithURL records the address the document was loaded from.
func WithURL(u *url.URL) Option { return func(f *Frame) { f.URL = u } }

// Parse reads an HTML document and builds a Frame around it.
func Parse(r io.Reader, opts ...Option) (*Frame, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewFrame(root, opts...), nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string, opts ...Option) (*Frame, error) {
	return Parse(strings.NewReader(s), opts...)
}

// NewFrame wraps an already parsed document node.
func NewFrame(root *html.Node, opts ...Option) *Frame {
	f := &Frame{
		Root:          root,
		Registry:      NewRegistry(),
		Viewport:      DefaultViewport,
		LandingAreaID: DefaultLandingAreaID,
	}
	for _, o := range opts {
		o(f)
	}
	if f.Layout == nil {
		f.Layout = NewFlowLayout(root, f.Viewport)
	}
	return f
}

// DocumentElement returns the <html> element.
func (f *Frame) DocumentElement() *html.Node {
	for c := f.Root.FirstChild; c != nil; c = c.NextSibling {
		if IsElement(c) {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, falling back to the document element.
func (f *Frame) Body() *html.Node {
	if body := FindElement(f.Root, func(n *html.Node) bool { return Tag(n) == "body" }); body != nil {
		return body
	}
	return f.DocumentElement()
}

// Host returns the host the document was loaded from, or "".
func (f *Frame) Host() string {
	if f.URL == nil {
		return ""
	}
	return f.URL.Host
}

// Title returns document.title, else the text of the first h1/h2/h3, else "untitled".
func (f *Frame) Title() string {
	doc := goquery.NewDocumentFromNode(f.Root)
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if heading := doc.Find("h1,h2,h3").First(); heading.Length() > 0 {
		if text := VisibleText(heading.Get(0)); text != "" {
			return text
		}
	}
	return "untitled"
}

// Identify returns the registry id of n.
func (f *Frame) Identify(n *html.Node) ID {
	return f.Registry.Identify(n)
}

// Resolve returns the node for id or ErrNotFound.
func (f *Frame) Resolve(id ID) (*html.Node, error) {
	n, ok := f.Registry.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("element %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// Attached reports whether n belongs to this frame's document.
func (f *Frame) Attached(n *html.Node) bool {
	return Contains(f.Root, n)
}

// Box returns the viewport-relative box of n.
func (f *Frame) Box(n *html.Node) Rect {
	if !IsElement(n) {
		return Rect{}
	}
	return f.Layout.Box(n)
}

// IsVisible mirrors offsetWidth > 0 && offsetHeight > 0.
func (f *Frame) IsVisible(n *html.Node) bool {
	b := f.Box(n)
	return math.Round(b.Width) > 0 && math.Round(b.Height) > 0
}

// WithinLandingArea reports whether n sits inside the injected UI subtree.
func (f *Frame) WithinLandingArea(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if IsElement(p) && AttrOr(p, "id", "") == f.LandingAreaID {
			return true
		}
	}
	return false
}

// ElementAt returns the innermost visible element whose box contains the
// document point (x, y), ignoring the landing area.
func (f *Frame) ElementAt(x, y float64) *html.Node {
	cx, cy := x-f.Viewport.ScrollX, y-f.Viewport.ScrollY
	var hit *html.Node
	Walk(f.Root, func(n *html.Node) bool {
		if !IsElement(n) {
			return true
		}
		if AttrOr(n, "id", "") == f.LandingAreaID {
			return false
		}
		b := f.Box(n)
		if !f.IsVisible(n) {
			return true
		}
		if cx >= b.Left && cx < b.Left+b.Width && cy >= b.Top && cy < b.Top+b.Height {
			hit = n
		}
		return true
	})
	return hit
}
