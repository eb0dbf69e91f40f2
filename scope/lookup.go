package scope

import (
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

// Querier evaluates selectors, typically a *query.Engine.
type Querier interface {
	QueryAll(f *dom.Frame, selector string, scope *html.Node) ([]*html.Node, error)
}

// Lookup is the active lookup scope of one frame: the index-th match of a
// selector, widened by ParentOffset levels. The zero value is inactive.
type Lookup struct {
	Selector     string
	Index        int
	ParentOffset int

	anchor *html.Node
}

// Set anchors the lookup on the index-th match of selector. An empty
// selector, or one that matches fewer than index+1 elements, clears it.
func (l *Lookup) Set(f *dom.Frame, q Querier, selector string, index, parentOffset int) (*html.Node, error) {
	if selector == "" {
		l.Clear()
		return nil, nil
	}
	nodes, err := q.QueryAll(f, selector, nil)
	if err != nil {
		l.Clear()
		return nil, err
	}
	if index < 0 || index >= len(nodes) {
		l.Clear()
		return nil, nil
	}
	if parentOffset < 0 {
		parentOffset = 0
	}
	*l = Lookup{Selector: selector, Index: index, ParentOffset: parentOffset, anchor: nodes[index]}
	return l.Root(), nil
}

// Clear deactivates the lookup.
func (l *Lookup) Clear() {
	*l = Lookup{}
}

// Active reports whether an anchor is set.
func (l *Lookup) Active() bool {
	return l.anchor != nil
}

// Anchor is the matched element the scope hangs off.
func (l *Lookup) Anchor() *html.Node {
	return l.anchor
}

// Root is the current scope root, or nil when inactive.
func (l *Lookup) Root() *html.Node {
	if l.anchor == nil {
		return nil
	}
	return NthParent(l.anchor, l.ParentOffset)
}

// Widen moves the scope root one level up. It stops growing at body.
func (l *Lookup) Widen() *html.Node {
	if l.anchor == nil {
		return nil
	}
	if NthParent(l.anchor, l.ParentOffset+1) != l.Root() {
		l.ParentOffset++
	}
	return l.Root()
}

// Narrow moves the scope root one level back toward the anchor.
func (l *Lookup) Narrow() *html.Node {
	if l.anchor == nil {
		return nil
	}
	if l.ParentOffset > 0 {
		l.ParentOffset--
	}
	return l.Root()
}
