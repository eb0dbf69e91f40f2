// Package selector synthesises CSS selectors for picked elements.
//
// A selector starts as the shortest compound that identifies the element on
// its own (tag, id, name, label target, then classes). When rejected elements
// still match, ancestors are prepended with child combinators until they no
// longer do, and positional :nth-child suffixes settle what is left.
package selector

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

// ErrNoTarget is returned when Build is called without an element.
var ErrNoTarget = errors.New("selector: no target element")

// Querier evaluates selectors, typically a *query.Engine.
type Querier interface {
	QueryAll(f *dom.Frame, selector string, scope *html.Node) ([]*html.Node, error)
}

// Builder derives selectors against one Querier.
type Builder struct {
	q Querier
}

// NewBuilder returns a Builder using q for every trial query.
func NewBuilder(q Querier) *Builder {
	return &Builder{q: q}
}

const child = " > "

var digit = regexp.MustCompile(`\d`)

// elements exposing a reflected name property
var namedTags = map[string]struct{}{
	"a": {}, "button": {}, "embed": {}, "fieldset": {}, "form": {}, "iframe": {},
	"img": {}, "input": {}, "map": {}, "meta": {}, "object": {}, "output": {},
	"param": {}, "select": {}, "slot": {}, "textarea": {},
}

// Build returns a selector matching target but none of the rejected
// elements, evaluated inside scope when it is non-nil.
func (b *Builder) Build(f *dom.Frame, target *html.Node, rejects []dom.ID, scope *html.Node) (string, error) {
	if !dom.IsElement(target) {
		return "", ErrNoTarget
	}
	w := &walkState{
		b:       b,
		f:       f,
		scope:   scope,
		rejects: rejectSet(f, target, rejects, scope),
	}
	return w.run(target)
}

// rejectSet resolves rejected ids, adds their ancestors below the limit
// (scope, else body) and drops anything on the target's own ancestor chain.
func rejectSet(f *dom.Frame, target *html.Node, ids []dom.ID, scope *html.Node) map[*html.Node]struct{} {
	limit := scope
	if limit == nil {
		limit = f.Body()
	}
	set := make(map[*html.Node]struct{}, len(ids))
	for _, id := range ids {
		n, ok := f.Registry.Resolve(id)
		if !ok {
			continue
		}
		set[n] = struct{}{}
		for p := n.Parent; p != nil && p != limit; p = p.Parent {
			set[p] = struct{}{}
		}
	}
	for n := range set {
		if dom.Contains(n, target) {
			delete(set, n)
		}
	}
	return set
}

// walkState is the explicit state of one upward widening walk. segs and
// nodes are ordered from the target upward; segs[i] selects nodes[i].
type walkState struct {
	b       *Builder
	f       *dom.Frame
	scope   *html.Node
	rejects map[*html.Node]struct{}

	segs  []string
	nodes []*html.Node

	best      int // number of segments in the best selector so far
	bestHits  int
	bestCount int
}

func (w *walkState) run(target *html.Node) (string, error) {
	seg, err := w.segment(target, "")
	if err != nil {
		return "", err
	}
	w.segs = []string{seg}
	w.nodes = []*html.Node{target}
	if len(w.rejects) == 0 {
		return seg, nil
	}

	hits, count, err := w.measure(seg)
	if err != nil {
		return "", err
	}
	w.best, w.bestHits, w.bestCount = 1, hits, count

	widened := false
	for node := target.Parent; hits > 0 && w.climbable(node); node = node.Parent {
		widened = true
		current := w.selector(len(w.segs))
		parentSeg, err := w.segment(node, current)
		if err != nil {
			return "", err
		}
		w.segs = append(w.segs, parentSeg)
		w.nodes = append(w.nodes, node)

		if hits, count, err = w.measure(w.selector(len(w.segs))); err != nil {
			return "", err
		}
		if hits < w.bestHits || (hits == w.bestHits && count < w.bestCount) {
			w.best, w.bestHits, w.bestCount = len(w.segs), hits, count
		}
	}

	if widened && w.bestHits > 0 {
		return w.position()
	}
	return w.selector(w.best), nil
}

// position adds :nth-child to the best selector, from the target upward,
// until no rejected element matches. Past the best selector's top segment it
// keeps climbing with positional ancestors.
func (w *walkState) position() (string, error) {
	w.segs = w.segs[:w.best]
	w.nodes = w.nodes[:w.best]
	sel := w.selector(w.best)

	for i := 0; ; i++ {
		if i == len(w.segs) {
			next := w.nodes[i-1].Parent
			if !w.climbable(next) {
				break
			}
			seg, err := w.segment(next, sel)
			if err != nil {
				return "", err
			}
			w.segs = append(w.segs, seg)
			w.nodes = append(w.nodes, next)
		}
		if n := w.nodes[i]; dom.IsElement(n.Parent) {
			w.segs[i] += fmt.Sprintf(":nth-child(%d)", dom.ChildIndex(n))
		}
		sel = w.selector(len(w.segs))
		hits, _, err := w.measure(sel)
		if err != nil {
			return "", err
		}
		if hits == 0 {
			break
		}
	}
	return sel, nil
}

func (w *walkState) climbable(n *html.Node) bool {
	return n != nil && n.Type != html.DocumentNode && n != w.scope
}

// selector joins the lowest n segments, outermost first.
func (w *walkState) selector(n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[n-1-i] = w.segs[i]
	}
	return strings.Join(parts, child)
}

func (w *walkState) measure(selector string) (hits, count int, err error) {
	nodes, err := w.b.q.QueryAll(w.f, selector, w.scope)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range nodes {
		if _, ok := w.rejects[n]; ok {
			hits++
		}
	}
	return hits, len(nodes), nil
}

// segment picks the compound selector for n. sub is the selector of the
// chain below n, so candidates are tested as "candidate > sub".
func (w *walkState) segment(n *html.Node, sub string) (string, error) {
	test := func(candidate string) (int, error) {
		if sub != "" {
			candidate += child + sub
		}
		nodes, err := w.b.q.QueryAll(w.f, candidate, w.scope)
		return len(nodes), err
	}

	naive := Naive(n)
	naiveCount, err := test(naive)
	if err != nil {
		return "", err
	}
	if naiveCount == 1 {
		return naive, nil
	}

	classes := dom.Classes(n)
	if len(classes) == 0 {
		return naive, nil
	}
	var sb strings.Builder
	sb.WriteString(naive)
	for _, c := range classes {
		sb.WriteByte('.')
		sb.WriteString(Escape(c))
	}
	withClasses := sb.String()
	classCount, err := test(withClasses)
	if err != nil {
		return "", err
	}
	slog.Debug("selector segment candidates",
		slog.String("naive", naive),
		slog.Int("naive_count", naiveCount),
		slog.String("classes", withClasses),
		slog.Int("classes_count", classCount),
		slog.String("sub", sub),
	)
	if classCount == naiveCount {
		return naive, nil
	}
	return withClasses, nil
}

// Naive is the class-free compound for n: tag, #id when the id has no
// digits, and [name]/[for] predicates.
func Naive(n *html.Node) string {
	tag := dom.Tag(n)
	var sb strings.Builder
	sb.WriteString(tag)
	if id := dom.AttrOr(n, "id", ""); id != "" && !digit.MatchString(id) {
		sb.WriteByte('#')
		sb.WriteString(Escape(id))
	}
	if _, ok := namedTags[tag]; ok {
		if name := dom.AttrOr(n, "name", ""); name != "" {
			fmt.Fprintf(&sb, `[name="%s"]`, Escape(name))
		}
	}
	if tag == "label" {
		if target := dom.AttrOr(n, "for", ""); target != "" {
			fmt.Fprintf(&sb, `[for="%s"]`, Escape(target))
		}
	}
	return sb.String()
}
