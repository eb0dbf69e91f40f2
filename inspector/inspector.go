// Package inspector runs the interactive flows over one frame: picking
// elements, querying stored selectors, resolving the current page and
// scoped lookups, and analysing page data.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/describe"
	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/infer"
	"github.com/aluiziolira/awtomato/match"
	"github.com/aluiziolira/awtomato/messages"
	"github.com/aluiziolira/awtomato/models"
	"github.com/aluiziolira/awtomato/query"
	"github.com/aluiziolira/awtomato/scope"
	"github.com/aluiziolira/awtomato/selector"
)

// ErrNoStore is returned by flows that need storage when none is set.
var ErrNoStore = errors.New("inspector: no store configured")

// Store is the storage the inspector reads pages from and writes edits to.
// *store.Store implements it.
type Store interface {
	GetPages(ctx context.Context, hostname string) ([]*models.Page, error)
	CreatePage(ctx context.Context, hostname, name string) (*models.Page, error)
	CreateSelection(ctx context.Context, sel *models.Selection) error
	GetSelection(ctx context.Context, id string) (*models.Selection, error)
	UpdateSelection(ctx context.Context, id, name, cssSelector string) (*models.Selection, error)
	RemoveSelection(ctx context.Context, id string) error
	CreateAttachment(ctx context.Context, selectionID string, att *models.Attachment) (*models.Selection, error)
	UpdateAttachment(ctx context.Context, selectionID string, att *models.Attachment) (*models.Selection, error)
	RemoveAttachment(ctx context.Context, selectionID, attachmentID string) (*models.Selection, error)
}

// Inspector holds the per-frame state: the document, its element
// registry and the active lookup scope.
type Inspector struct {
	mu     sync.Mutex
	frame  *dom.Frame
	lookup scope.Lookup

	engine    *query.Engine
	builder   *selector.Builder
	describer *describe.Describer
	matcher   *match.Matcher
	store     Store
	metrics   *Metrics
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithStore sets the page storage.
func WithStore(s Store) Option { return func(i *Inspector) { i.store = s } }

// WithMetrics records flow outcomes on m.
func WithMetrics(m *Metrics) Option { return func(i *Inspector) { i.metrics = m } }

// WithEngine replaces the default query engine.
func WithEngine(e *query.Engine) Option { return func(i *Inspector) { i.engine = e } }

// New returns an Inspector over f.
func New(f *dom.Frame, opts ...Option) *Inspector {
	i := &Inspector{frame: f}
	for _, o := range opts {
		o(i)
	}
	if i.engine == nil {
		i.engine = query.MustEngine()
	}
	i.builder = selector.NewBuilder(i.engine)
	i.describer = describe.New(i.engine)
	i.matcher = match.New(i.engine, i.describer)
	i.matcher.OnSelectorError = func(string, string, error) { i.metrics.IncSelectorFailure() }
	return i
}

// Load replaces the document, as after a navigation. Element ids and the
// lookup scope of the previous document are dropped.
func (i *Inspector) Load(f *dom.Frame) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frame = f
	i.lookup.Clear()
}

// Frame returns the current document.
func (i *Inspector) Frame() *dom.Frame {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.frame
}

// Matcher exposes the selection matcher bound to this inspector's engine.
func (i *Inspector) Matcher() *match.Matcher {
	return i.matcher
}

// Pick synthesises a selector for the requested element. With an active
// lookup the selector is built inside the common ancestor of the lookup
// anchor and the element, and ParentOffset says how far above the anchor
// that ancestor sits.
func (i *Inspector) Pick(req models.PickRequest) (models.PickResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	empty := models.PickResult{Elements: []*models.Descriptor{}}
	n, err := i.frame.Resolve(req.ElementID)
	if err != nil {
		i.metrics.ObservePick("not_found", 0)
		return empty, nil
	}

	var root *html.Node
	offset := 0
	if i.lookup.Active() {
		root, offset = scope.CommonAncestor(i.lookup.Anchor(), n)
		// scoped queries never return the scope itself
		if root == n {
			root, offset = n.Parent, offset+1
		}
	}

	start := time.Now()
	sel, err := i.builder.Build(i.frame, n, req.Rejects, root)
	if err != nil {
		i.metrics.ObservePick("error", time.Since(start))
		return empty, fmt.Errorf("build selector for %d: %w", req.ElementID, err)
	}
	i.metrics.ObservePick("ok", time.Since(start))

	nodes, err := i.engine.QueryAll(i.frame, sel, root)
	if err != nil {
		return empty, err
	}
	slog.Debug("element picked",
		slog.Int64("element_id", int64(req.ElementID)),
		slog.String("selector", sel),
		slog.Int("matches", len(nodes)),
		slog.Int("parent_offset", offset),
	)
	return models.PickResult{
		ID:           req.ElementID,
		Selector:     sel,
		Elements:     i.describer.DescribeAll(i.frame, nodes, nil),
		PrimaryPick:  slices.Index(nodes, n),
		ParentOffset: offset,
	}, nil
}

// QueryElements describes every element matched by a stored selector.
func (i *Inspector) QueryElements(sel string, ex *models.Extractor) ([]*models.Descriptor, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	nodes, err := i.engine.QueryAll(i.frame, sel, nil)
	if err != nil {
		return nil, err
	}
	return i.describer.DescribeAll(i.frame, nodes, ex), nil
}

// ElementAt describes the element under a document point, or nil.
func (i *Inspector) ElementAt(x, y int) *models.Descriptor {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.describer.Describe(i.frame, i.frame.ElementAt(float64(x), float64(y)), nil)
}

// SetLookup updates the lookup scope and describes its root, or returns
// nil when the lookup is inactive afterwards.
func (i *Inspector) SetLookup(l messages.Lookup) (*models.Descriptor, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var root *html.Node
	switch {
	case l.Widen:
		root = i.lookup.Widen()
	case l.Narrow:
		root = i.lookup.Narrow()
	default:
		var err error
		if root, err = i.lookup.Set(i.frame, i.engine, l.Selector, l.Index, l.ParentOffset); err != nil {
			return nil, err
		}
	}
	return i.describer.Describe(i.frame, root, nil), nil
}

// ScopedInspect anchors the lookup, then describes the first match of the
// selector inside its root.
func (i *Inspector) ScopedInspect(in messages.Inspect) (*models.Descriptor, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	root, err := i.lookup.Set(i.frame, i.engine, in.Anchor, in.Index, in.ParentOffset)
	if err != nil || root == nil {
		return nil, err
	}
	n, err := i.engine.First(i.frame, in.Selector, root)
	if err != nil {
		return nil, err
	}
	return i.describer.Describe(i.frame, n, nil), nil
}

// CurrentPage finds the stored page of this host that matches the
// document. Failing that it returns the first page without selections,
// and failing that a page newly created from the document title.
func (i *Inspector) CurrentPage(ctx context.Context) (messages.PageMatches, error) {
	if i.store == nil {
		return messages.PageMatches{}, ErrNoStore
	}
	f := i.Frame()
	host := f.Host()
	pages, err := i.store.GetPages(ctx, host)
	if err != nil {
		return messages.PageMatches{}, fmt.Errorf("pages of %s: %w", host, err)
	}

	var empty *models.Page
	i.mu.Lock()
	for _, p := range pages {
		if matches := i.matcher.MatchPage(f, p); matches != nil {
			i.mu.Unlock()
			i.metrics.IncPage("matched")
			return messages.PageMatches{Page: p, Matches: matches}, nil
		}
		if empty == nil && len(p.Selections) == 0 {
			empty = p
		}
	}
	i.mu.Unlock()

	if empty != nil {
		i.metrics.IncPage("empty")
		return messages.PageMatches{Page: empty, Matches: []models.Match{}}, nil
	}
	p, err := i.store.CreatePage(ctx, host, f.Title())
	if err != nil {
		return messages.PageMatches{}, err
	}
	i.metrics.IncPage("created")
	slog.Info("page created", slog.String("host", host), slog.String("page_id", p.ID), slog.String("name", p.Name))
	return messages.PageMatches{Page: p, Matches: []models.Match{}}, nil
}

// Analyse runs the inference engine under the element with id, or under
// the body when id is zero.
func (i *Inspector) Analyse(id dom.ID) (*infer.Report, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	root := i.frame.Body()
	if id != 0 {
		n, err := i.frame.Resolve(id)
		if err != nil {
			return nil, err
		}
		root = n
	}
	r := infer.Analyze(root)
	i.metrics.ObserveAnalysis(r.Stats.DataLeaves)
	return r, nil
}

// Extract returns one row per element matched by the selections of page.
func (i *Inspector) Extract(page *models.Page) []*models.Row {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.matcher.Extract(i.frame, page)
}
