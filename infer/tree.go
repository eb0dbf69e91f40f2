// Package infer guesses the data types laid out in a page. It classifies
// text leaves, strips structure that carries no data, and folds sibling
// leaves into composite types such as prices and time ranges.
//
// The passes are heuristic and order dependent: analyse, prune empty nodes,
// collapse proxies, then unify bottom-up.
package infer

import (
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/parser"
)

// NodeType marks structural tree nodes.
const NodeType = "Node"

// Tree is a node of the inference tree. Structural nodes have Type "Node"
// and children; every other node is a typed leaf.
type Tree struct {
	Type     string     `json:"type"`
	Value    any        `json:"value,omitempty"`
	HasData  bool       `json:"hasData,omitempty"`
	Children []*Tree    `json:"data,omitempty"`
	Text     string     `json:"text,omitempty"`
	Node     *html.Node `json:"-"`
}

// IsNode reports whether t is structural.
func (t *Tree) IsNode() bool {
	return t.Type == NodeType
}

// Stats counts what each pass saw or removed.
type Stats struct {
	Nodes      int `json:"nodes"`
	Prunes     int `json:"prunes"`
	Proxies    int `json:"proxies"`
	FinalNodes int `json:"finalNodes"`
	DataLeaves int `json:"dataLeaves"`
}

// analyze builds the raw tree. Script and style elements, and nodes
// without children, produce nothing.
func (a *analysis) analyze(n *html.Node) *Tree {
	if n == nil || n.FirstChild == nil {
		return nil
	}
	if tag := dom.Tag(n); tag == "script" || tag == "style" {
		return nil
	}
	t := &Tree{Type: NodeType, Node: n}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if tok, ok := parser.Classify(c.Data); ok {
				t.Children = append(t.Children, &Tree{Type: string(tok.Kind), Value: tok.Value, Text: tok.Text, Node: c})
				t.HasData = true
			}
			continue
		}
		if child := a.analyze(c); child != nil {
			t.Children = append(t.Children, child)
		}
	}
	a.stats.Nodes++
	return t
}

// pruneNoData drops structural nodes that neither hold data nor keep any
// child after pruning.
func (a *analysis) pruneNoData(t *Tree) *Tree {
	if t == nil || !t.IsNode() {
		return t
	}
	kept := t.Children[:0]
	for _, c := range t.Children {
		if c = a.pruneNoData(c); c != nil {
			kept = append(kept, c)
		}
	}
	t.Children = kept
	if t.HasData || len(t.Children) > 0 {
		return t
	}
	a.stats.Prunes++
	return nil
}

// pruneProxies replaces every structural node with a single child by that
// child.
func (a *analysis) pruneProxies(t *Tree) *Tree {
	if t == nil || !t.IsNode() {
		return t
	}
	if len(t.Children) == 1 {
		a.stats.Proxies++
		return a.pruneProxies(t.Children[0])
	}
	kept := t.Children[:0]
	for _, c := range t.Children {
		if c = a.pruneProxies(c); c != nil {
			kept = append(kept, c)
		}
	}
	t.Children = kept
	return t
}

// inferComplex types every structural node whose children are all leaves.
func (a *analysis) inferComplex(t *Tree) *Tree {
	if t == nil || !t.IsNode() || len(t.Children) == 0 {
		return t
	}
	kept := t.Children[:0]
	for _, c := range t.Children {
		if c = a.inferComplex(c); c != nil {
			kept = append(kept, c)
		}
	}
	t.Children = kept
	for _, c := range t.Children {
		if c.IsNode() {
			return t
		}
	}
	if typ, value, ok := a.types.unify(t.Children); ok {
		t.Type, t.Value = typ, value
	}
	return t
}

func (a *analysis) count(t *Tree) {
	if t == nil {
		return
	}
	if !t.IsNode() {
		a.stats.DataLeaves++
		return
	}
	a.stats.FinalNodes++
	for _, c := range t.Children {
		a.count(c)
	}
}
