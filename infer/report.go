package infer

import (
	"log/slog"

	"golang.org/x/net/html"
)

// Collection is the most populated type of one registry level, each value
// flattened into a row.
type Collection struct {
	Level int     `json:"level"`
	Type  string  `json:"type"`
	Rows  [][]any `json:"rows"`
}

// TypeCount is how often a type was produced at a level.
type TypeCount struct {
	Level int    `json:"level"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Report is the outcome of one analysis.
type Report struct {
	Stats       Stats        `json:"stats"`
	Types       []TypeCount  `json:"types"`
	Collections []Collection `json:"collections"`
	Flights     [][]any      `json:"flights"`
	Tree        *Tree        `json:"tree,omitempty"`
}

type analysis struct {
	stats Stats
	types *registry
}

// Analyze runs every pass over the subtree at root.
func Analyze(root *html.Node) *Report {
	a := &analysis{types: newRegistry()}

	tree := a.analyze(root)
	tree = a.pruneNoData(tree)
	tree = a.pruneProxies(tree)
	tree = a.inferComplex(tree)
	a.count(tree)

	r := &Report{
		Stats:       a.stats,
		Types:       a.types.counts(),
		Collections: a.types.collections(2, Levels-1),
		Flights:     a.types.flights(),
		Tree:        tree,
	}
	slog.Debug("page analysed",
		slog.Int("nodes", r.Stats.Nodes),
		slog.Int("prunes", r.Stats.Prunes),
		slog.Int("proxies", r.Stats.Proxies),
		slog.Int("final_nodes", r.Stats.FinalNodes),
		slog.Int("data_leaves", r.Stats.DataLeaves),
	)
	return r
}

func (r *registry) counts() []TypeCount {
	var out []TypeCount
	for i, l := range r {
		for _, name := range l.order {
			if n := len(l.values[name]); n > 0 {
				out = append(out, TypeCount{Level: i, Type: name, Count: n})
			}
		}
	}
	return out
}

// collections picks, for levels from..to, the type with the most values.
// Ties go to the type seen last.
func (r *registry) collections(from, to int) []Collection {
	var out []Collection
	for i := from; i <= to; i++ {
		l := r[i]
		best := ""
		for _, name := range l.order {
			if best == "" || len(l.values[name]) >= len(l.values[best]) {
				best = name
			}
		}
		if best == "" || len(l.values[best]) == 0 {
			continue
		}
		c := Collection{Level: i, Type: best}
		for _, v := range l.values[best] {
			c.Rows = append(c.Rows, flatten(v))
		}
		out = append(out, c)
	}
	return out
}

// flights gathers every time range followed by prices.
func (r *registry) flights() [][]any {
	var out [][]any
	for _, l := range r {
		for _, name := range l.order {
			if name != "(TimeRange-Price)" && name != "(TimeRange-*Price)" {
				continue
			}
			for _, v := range l.values[name] {
				out = append(out, flatten(v))
			}
		}
	}
	return out
}

func flatten(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{v}
	}
	var out []any
	for _, item := range list {
		out = append(out, flatten(item)...)
	}
	return out
}
