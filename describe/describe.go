// Package describe turns elements into serialisable descriptors.
package describe

import (
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/models"
	"github.com/aluiziolira/awtomato/scope"
)

// DefaultSource is read for sub-properties that name no source.
const DefaultSource = "innerText"

const (
	labelKeep     = 32
	labelTruncate = 30
	ellipsis      = "…"
)

var labelable = map[string]struct{}{
	"button": {}, "input": {}, "meter": {}, "output": {},
	"progress": {}, "select": {}, "textarea": {},
}

// properties whose DOM value resolves against the document URL
var urlSources = map[string]struct{}{
	"href": {}, "src": {}, "action": {},
}

// Describer builds descriptors, resolving sub-properties through q.
type Describer struct {
	q scope.Querier
}

// New returns a Describer.
func New(q scope.Querier) *Describer {
	return &Describer{q: q}
}

// Describe snapshots n. It returns nil only when n is nil.
func (d *Describer) Describe(f *dom.Frame, n *html.Node, ex *models.Extractor) *models.Descriptor {
	if n == nil {
		return nil
	}
	box := f.Box(n)
	desc := &models.Descriptor{
		TagName:       dom.Tag(n),
		ClassList:     dom.Classes(n),
		ElementID:     f.Identify(n),
		X:             round(box.Left + f.Viewport.ScrollX),
		Y:             round(box.Top + f.Viewport.ScrollY),
		Width:         round(box.Width),
		Height:        round(box.Height),
		DistanceToTop: round(box.Top),
		HasChildren:   dom.HasElementChildren(n),
		Label:         Label(f, n),
	}
	if id := dom.AttrOr(n, "id", ""); id != "" {
		desc.ID = &id
	}
	if ex == nil {
		return desc
	}
	if ex.Source != "" {
		desc.Data = Data(f, n, ex.Source)
	}
	for _, spec := range ex.Properties {
		if sub := d.property(f, n, spec); sub != nil {
			desc.Properties = append(desc.Properties, sub)
		}
	}
	return desc
}

// DescribeAll describes every node in order.
func (d *Describer) DescribeAll(f *dom.Frame, nodes []*html.Node, ex *models.Extractor) []*models.Descriptor {
	out := make([]*models.Descriptor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.Describe(f, n, ex))
	}
	return out
}

func (d *Describer) property(f *dom.Frame, anchor *html.Node, spec models.PropertySpec) *models.Descriptor {
	root := scope.NthParent(anchor, spec.ParentOffset)
	nodes, err := d.q.QueryAll(f, spec.Selector, root)
	if err != nil {
		slog.Debug("property query failed",
			slog.String("property", spec.Name),
			slog.String("selector", spec.Selector),
			slog.Any("error", err),
		)
		return nil
	}
	if len(nodes) == 0 {
		return nil
	}
	source := spec.Source
	if source == "" {
		source = DefaultSource
	}
	sub := d.Describe(f, nodes[0], &models.Extractor{Source: source})
	sub.Name = spec.Name
	return sub
}

// Label derives a human readable label: button text, truncated text for
// anything but form controls, then the associated <label>, placeholder and
// name. It is nil when none apply.
func Label(f *dom.Frame, n *html.Node) *string {
	switch tag := dom.Tag(n); tag {
	case "button":
		return ptr(strings.TrimSpace(dom.VisibleText(n)))
	case "input", "select":
	default:
		return ptr(truncate(strings.TrimSpace(dom.VisibleText(n))))
	}
	if label := controlLabel(f, n); label != nil {
		return ptr(strings.TrimSpace(dom.VisibleText(label)))
	}
	if v := strings.TrimSpace(dom.AttrOr(n, "placeholder", "")); v != "" {
		return &v
	}
	if v := strings.TrimSpace(dom.AttrOr(n, "name", "")); v != "" {
		return &v
	}
	return nil
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= labelKeep {
		return text
	}
	return string(runes[:labelTruncate]) + ellipsis
}

// controlLabel finds the <label> whose control is n: a matching for
// attribute, or, without one, n being its first labelable descendant.
func controlLabel(f *dom.Frame, n *html.Node) *html.Node {
	id := dom.AttrOr(n, "id", "")
	var found *html.Node
	goquery.NewDocumentFromNode(f.Root).Find("label").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := s.Get(0)
		if target, ok := dom.Attr(label, "for"); ok {
			if id != "" && target == id {
				found = label
			}
		} else if firstLabelable(label) == n {
			found = label
		}
		return found == nil
	})
	return found
}

func firstLabelable(label *html.Node) *html.Node {
	return dom.FindElement(label, func(c *html.Node) bool {
		if c == label {
			return false
		}
		tag := dom.Tag(c)
		if tag == "input" && strings.EqualFold(dom.AttrOr(c, "type", ""), "hidden") {
			return false
		}
		_, ok := labelable[tag]
		return ok
	})
}

// Data reads source from n the way the DOM property of that name would, or
// nil when it is missing or empty.
func Data(f *dom.Frame, n *html.Node, source string) *string {
	var v string
	switch source {
	case "innerText":
		v = dom.VisibleText(n)
	case "textContent":
		v = dom.TextContent(n)
	case "innerHTML":
		v, _ = goquery.NewDocumentFromNode(n).Selection.Html()
	case "outerHTML":
		v, _ = goquery.OuterHtml(goquery.NewDocumentFromNode(n).Selection)
	case "className":
		v = dom.AttrOr(n, "class", "")
	case "htmlFor":
		v = dom.AttrOr(n, "for", "")
	case "tagName":
		v = strings.ToUpper(dom.Tag(n))
	default:
		v = dom.AttrOr(n, source, "")
		if _, ok := urlSources[source]; ok && v != "" && f.URL != nil {
			if ref, err := url.Parse(v); err == nil {
				v = f.URL.ResolveReference(ref).String()
			}
		}
	}
	if v == "" {
		return nil
	}
	return &v
}

func ptr(s string) *string { return &s }

func round(v float64) int {
	return int(math.Round(v))
}
