package infer

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/awtomato/parser"
)

// Levels is the depth of the type registry. Level 0 holds primitives.
const Levels = 5

// TimeRange is a begin/end pair of HH:MM times.
type TimeRange struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

var primitives = []string{
	"Price", "*Price", "Time", "*Time", "Int", "*Int",
	"Float", "*Float", "Currency", "*Currency", "Dot", "*Dot",
}

type level struct {
	order  []string
	values map[string][]any
}

// registry records every unified type by composition level, in the order
// types were first seen.
type registry [Levels]*level

func newRegistry() *registry {
	var r registry
	for i := range r {
		r[i] = &level{values: make(map[string][]any)}
	}
	for _, name := range primitives {
		r[0].order = append(r[0].order, name)
		r[0].values[name] = nil
	}
	return &r
}

func (r *registry) levelOf(name string) int {
	for i, l := range r {
		if _, ok := l.values[name]; ok {
			return i
		}
	}
	return -1
}

func (r *registry) register(lvl int, name string, value any) {
	l := r[lvl]
	if _, ok := l.values[name]; !ok {
		l.order = append(l.order, name)
	}
	l.values[name] = append(l.values[name], value)
}

// unify types a list of leaves at one level above the highest level among
// them. Leaves of unknown types, or too deep, do not unify.
func (r *registry) unify(leaves []*Tree) (string, any, bool) {
	if len(leaves) == 0 {
		return "", nil, false
	}
	top := -1
	for _, c := range leaves {
		l := r.levelOf(c.Type)
		if l < 0 {
			return "", nil, false
		}
		top = max(top, l)
	}
	regLevel := top + 1
	if regLevel >= Levels {
		return "", nil, false
	}
	name, value, lvl := compose(leaves, regLevel)
	r.register(lvl, name, value)
	return name, value, true
}

// compose names and values a list of leaves. A pair of times is a range,
// uniform leaves repeat one level down, and mixed leaves become a tuple of
// their consecutive runs.
func compose(leaves []*Tree, lvl int) (string, any, int) {
	values := make([]any, len(leaves))
	for i, c := range leaves {
		values[i] = c.Value
	}

	var name string
	var value any = values
	switch {
	case len(leaves) == 2 && leaves[0].Type == "Time" && leaves[1].Type == "Time":
		name = "TimeRange"
		value = TimeRange{Begin: asString(values[0]), End: asString(values[1])}
	case sameType(leaves):
		name = "*" + leaves[0].Type
		lvl--
	default:
		var names []string
		var parts []any
		for _, run := range runs(leaves) {
			if len(run) == 1 {
				names = append(names, run[0].Type)
				parts = append(parts, run[0].Value)
				continue
			}
			n, v, _ := compose(run, lvl)
			names = append(names, n)
			parts = append(parts, v)
		}
		name = "(" + strings.Join(names, "-") + ")"
		value = parts
	}
	name, value, lvl = rewrite(name, value, leaves, lvl)
	return name, value, lvl
}

// rewrite folds currency/amount tuples and degenerate repeats into prices.
func rewrite(name string, value any, leaves []*Tree, lvl int) (string, any, int) {
	parts, _ := value.([]any)
	switch name {
	case "(Float-Currency)":
		return "Price", parser.Price{Value: asFloat(parts[0]), Currency: asCurrency(parts[1])}, lvl
	case "(Currency-Float)":
		return "Price", parser.Price{Value: asFloat(parts[1]), Currency: asCurrency(parts[0])}, lvl
	case "(Currency-Int-Dot)", "(Currency-Int-Dot-Int)":
		amount := leaves[1].Text + "."
		if len(leaves) == 4 {
			amount += leaves[3].Text
		}
		f, err := parser.ParseNumber(amount)
		if err != nil {
			return name, value, lvl
		}
		return "Price", parser.Price{Value: f, Currency: asCurrency(parts[0])}, lvl
	case "(Float-Price)":
		if p, ok := parts[1].(parser.Price); ok && asFloat(parts[0]) == p.Value {
			return "Price", p, lvl
		}
	case "*Price":
		if len(parts) == 2 {
			a, aok := parts[0].(parser.Price)
			b, bok := parts[1].(parser.Price)
			if aok && bok && a.Value == b.Value {
				return "Price", a, lvl + 1
			}
		}
	}
	return name, value, lvl
}

func sameType(leaves []*Tree) bool {
	for _, c := range leaves[1:] {
		if c.Type != leaves[0].Type {
			return false
		}
	}
	return true
}

func runs(leaves []*Tree) [][]*Tree {
	var out [][]*Tree
	start := 0
	for i := 1; i <= len(leaves); i++ {
		if i == len(leaves) || leaves[i].Type != leaves[start].Type {
			out = append(out, leaves[start:i])
			start = i
		}
	}
	return out
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func asCurrency(v any) parser.Currency {
	c, _ := v.(parser.Currency)
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
