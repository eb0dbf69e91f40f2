// Package match re-runs persisted selections against the current document.
package match

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/describe"
	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/models"
	"github.com/aluiziolira/awtomato/scope"
)

// Matcher evaluates the selections of a page. Nothing is cached between
// calls; every call sees the document as it is now.
type Matcher struct {
	q scope.Querier
	d *describe.Describer

	// OnSelectorError, when set, is told about every selection or attachment
	// whose selector failed. The failure only removes that entry.
	OnSelectorError func(id, selector string, err error)
}

// New returns a Matcher.
func New(q scope.Querier, d *describe.Describer) *Matcher {
	return &Matcher{q: q, d: d}
}

type matched struct {
	sel   *models.Selection
	nodes []*html.Node
}

// MatchPage returns the matches of page in stored order: every selection
// with at least one match, followed by the matching attachments of those
// selections. It returns nil when no selection matched at all.
func (m *Matcher) MatchPage(f *dom.Frame, page *models.Page) []models.Match {
	if page == nil {
		return nil
	}
	hits := m.selections(f, page)
	if len(hits) == 0 {
		return nil
	}

	out := make([]models.Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Match{ID: h.sel.ID, Elements: m.d.DescribeAll(f, h.nodes, nil)})
	}
	for _, h := range hits {
		for _, a := range h.sel.Config.Attachments {
			nodes := m.query(f, a.ID, a.CSSSelector, scope.NthParent(h.nodes[0], a.ParentOffset))
			if len(nodes) > 0 {
				out = append(out, models.Match{ID: a.ID, Elements: m.d.DescribeAll(f, nodes, nil)})
			}
		}
	}
	return out
}

// Matches reports whether any selection of page matches.
func (m *Matcher) Matches(f *dom.Frame, page *models.Page) bool {
	return len(m.selections(f, page)) > 0
}

// Extract produces one row per matched element. Attachments are resolved
// around each element and stored under their names.
func (m *Matcher) Extract(f *dom.Frame, page *models.Page) []*models.Row {
	if page == nil {
		return nil
	}
	pageURL := ""
	if f.URL != nil {
		pageURL = f.URL.String()
	}
	now := time.Now()

	var rows []*models.Row
	for _, h := range m.selections(f, page) {
		for i, n := range h.nodes {
			row := &models.Row{
				PageID:        page.ID,
				SelectionID:   h.sel.ID,
				SelectionName: h.sel.Name,
				Index:         i,
				URL:           pageURL,
				Data:          dom.VisibleText(n),
				Fields:        make(map[string]string, len(h.sel.Config.Attachments)),
				ExtractedAt:   now,
			}
			if label := describe.Label(f, n); label != nil {
				row.Label = *label
			}
			for _, a := range h.sel.Config.Attachments {
				nodes := m.query(f, a.ID, a.CSSSelector, scope.NthParent(n, a.ParentOffset))
				if len(nodes) == 0 {
					continue
				}
				row.Fields[fieldName(a)] = dom.VisibleText(nodes[0])
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func (m *Matcher) selections(f *dom.Frame, page *models.Page) []matched {
	if page == nil {
		return nil
	}
	var hits []matched
	for _, s := range page.Selections {
		nodes := m.query(f, s.ID, s.Config.CSSSelector, nil)
		if len(nodes) > 0 {
			hits = append(hits, matched{sel: s, nodes: nodes})
		}
	}
	return hits
}

func (m *Matcher) query(f *dom.Frame, id, selector string, root *html.Node) []*html.Node {
	nodes, err := m.q.QueryAll(f, selector, root)
	if err != nil {
		slog.Warn("selector failed, skipping",
			slog.String("id", id),
			slog.String("selector", selector),
			slog.Any("error", err),
		)
		if m.OnSelectorError != nil {
			m.OnSelectorError(id, selector, err)
		}
		return nil
	}
	return nodes
}

func fieldName(a *models.Attachment) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.ID
}
