package dom

import "golang.org/x/net/html"

// ID is the opaque identity handed out for a node.
type ID int64

// Registry is the append-only node <-> id bijection for one document.
// It is not safe for concurrent use; a Frame is driven from a single goroutine.
type Registry struct {
	next  ID
	ids   map[*html.Node]ID
	nodes map[ID]*html.Node
}

// NewRegistry returns an empty registry. Ids start at 1 so the zero value
// never names a node.
func NewRegistry() *Registry {
	return &Registry{
		next:  1,
		ids:   make(map[*html.Node]ID),
		nodes: make(map[ID]*html.Node),
	}
}

// Identify returns the id already recorded for n or allocates a new one.
func (r *Registry) Identify(n *html.Node) ID {
	if n == nil {
		return 0
	}
	if id, ok := r.ids[n]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[n] = id
	r.nodes[id] = n
	return id
}

// Resolve returns the node recorded for id.
func (r *Registry) Resolve(id ID) (*html.Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Len reports how many nodes have been identified.
func (r *Registry) Len() int {
	return len(r.nodes)
}
