// Package query evaluates CSS selectors against a frame, returning only the
// elements a user could actually see and pick.
package query

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

// DefaultCacheSize bounds the number of compiled selectors kept around.
const DefaultCacheSize = 512

// Engine runs selectors. Compiled selectors are shared across frames.
type Engine struct {
	cache *lru.Cache[string, cascadia.Selector]
}

// NewEngine returns an engine caching up to size compiled selectors.
func NewEngine(size int) (*Engine, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, cascadia.Selector](size)
	if err != nil {
		return nil, fmt.Errorf("create selector cache: %w", err)
	}
	return &Engine{cache: cache}, nil
}

// MustEngine is NewEngine for the default size; it never fails.
func MustEngine() *Engine {
	e, err := NewEngine(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return e
}

// Compile parses selector, consulting the cache first.
func (e *Engine) Compile(selector string) (cascadia.Selector, error) {
	if sel, ok := e.cache.Get(selector); ok {
		return sel, nil
	}
	if strings.TrimSpace(selector) == "" {
		return nil, &SelectorError{Selector: selector, Err: ErrEmptySelector}
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, &SelectorError{Selector: selector, Err: err}
	}
	e.cache.Add(selector, sel)
	return sel, nil
}

// QueryAll returns the visible elements matching selector in document order.
// With a scope, the selector is evaluated as if prefixed by ":scope ": every
// compound of every selector in a group has to match strictly inside scope.
// Elements inside the landing area are never returned.
func (e *Engine) QueryAll(f *dom.Frame, selector string, scope *html.Node) ([]*html.Node, error) {
	sel, err := e.Compile(selector)
	if err != nil {
		return nil, err
	}
	root, orig := f.Root, map[*html.Node]*html.Node(nil)
	if scope != nil {
		if !f.Attached(scope) {
			return nil, &SelectorError{Selector: selector, Err: ErrScopeDetached}
		}
		if f.WithinLandingArea(scope) {
			return nil, nil
		}
		root, orig = detach(scope)
	}

	var out []*html.Node
	dom.Walk(root, func(n *html.Node) bool {
		if !dom.IsElement(n) {
			return true
		}
		if dom.AttrOr(n, "id", "") == f.LandingAreaID {
			return false
		}
		if !sel.Match(n) {
			return true
		}
		if orig != nil {
			n = orig[n]
		}
		if f.IsVisible(n) {
			out = append(out, n)
		}
		return true
	})
	return out, nil
}

// First returns the first visible match or nil.
func (e *Engine) First(f *dom.Frame, selector string, scope *html.Node) (*html.Node, error) {
	nodes, err := e.QueryAll(f, selector, scope)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// detach copies the children of scope under a holder that is neither an
// element nor a document, so no compound or :root can match it. The map
// leads from each copy back to the node it was made from.
func detach(scope *html.Node) (*html.Node, map[*html.Node]*html.Node) {
	holder := &html.Node{Type: html.RawNode}
	orig := make(map[*html.Node]*html.Node)
	for c := scope.FirstChild; c != nil; c = c.NextSibling {
		holder.AppendChild(copyTree(c, orig))
	}
	return holder, orig
}

func copyTree(n *html.Node, orig map[*html.Node]*html.Node) *html.Node {
	cp := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	orig[cp] = n
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cp.AppendChild(copyTree(c, orig))
	}
	return cp
}
