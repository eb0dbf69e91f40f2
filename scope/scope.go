// Package scope relates picked elements to a user-declared lookup scope.
package scope

import (
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

// NthParent walks up level parents from n, stopping early at body or at the
// topmost element. NthParent(n, 0) is n.
func NthParent(n *html.Node, level int) *html.Node {
	cur := n
	for i := 0; i < level && cur != nil; i++ {
		if dom.Tag(cur) == "body" || !dom.IsElement(cur.Parent) {
			break
		}
		cur = cur.Parent
	}
	return cur
}

// CommonAncestor returns the deepest node shared by anchor's and n's
// ancestor chains, together with the number of levels to climb from anchor
// to reach it. A node inside anchor yields (anchor, 0); a missing input
// yields (nil, 0).
func CommonAncestor(anchor, n *html.Node) (*html.Node, int) {
	if anchor == nil || n == nil {
		return nil, 0
	}
	if dom.Contains(anchor, n) {
		return anchor, 0
	}
	a := dom.Ancestors(anchor)
	b := dom.Ancestors(n)

	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	if i == 0 {
		return nil, 0
	}
	// a[i-1] is the shared node; anchor sits len(a)-(i-1) levels below it.
	return a[i-1], len(a) - i + 1
}
