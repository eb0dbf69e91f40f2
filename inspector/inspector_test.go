package inspector

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/messages"
	"github.com/aluiziolira/awtomato/models"
	"github.com/aluiziolira/awtomato/query"
	"github.com/aluiziolira/awtomato/store"
)

const shop = `<html><body>
<div id="header"><a href="/" class="logo">Home</a></div>
<ul class="products a">
  <li class="item"><span class="name">One</span><span class="price">£1</span></li>
  <li class="item"><span class="name">Two</span><span class="price">£2</span></li>
</ul>
<ul class="products b">
  <li class="item featured"><span class="name">Three</span><span class="price">£3</span></li>
</ul>
</body></html>`

type fixture struct {
	in *Inspector
	f  *dom.Frame
	st *store.Store
	m  *Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	u, err := url.Parse("https://shop.example/list")
	require.NoError(t, err)
	f, err := dom.ParseString(shop, dom.WithURL(u))
	require.NoError(t, err)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m := NewMetrics(nil)
	return fixture{in: New(f, WithStore(st), WithMetrics(m)), f: f, st: st, m: m}
}

func (fx fixture) node(t *testing.T, sel string, i int) *html.Node {
	t.Helper()
	nodes, err := query.MustEngine().QueryAll(fx.f, sel, nil)
	require.NoError(t, err)
	require.Greater(t, len(nodes), i, sel)
	return nodes[i]
}

func (fx fixture) id(t *testing.T, sel string, i int) dom.ID {
	return fx.f.Identify(fx.node(t, sel, i))
}

func TestPick(t *testing.T) {
	fx := newFixture(t)
	id := fx.id(t, "li", 1)

	res, err := fx.in.Pick(models.PickRequest{ElementID: id})
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, "li", res.Selector)
	assert.Len(t, res.Elements, 3)
	assert.Equal(t, 1, res.PrimaryPick)
	assert.Equal(t, 0, res.ParentOffset)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.m.PicksTotal.WithLabelValues("ok")))
}

func TestPickWithRejectsExcludesThem(t *testing.T) {
	fx := newFixture(t)
	reject := fx.id(t, "li", 2)

	res, err := fx.in.Pick(models.PickRequest{ElementID: fx.id(t, "li", 0), Rejects: []dom.ID{reject}})
	require.NoError(t, err)
	for _, d := range res.Elements {
		assert.NotEqual(t, reject, d.ElementID)
	}
	assert.Equal(t, 0, res.PrimaryPick)
}

func TestPickUnknownElement(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.in.Pick(models.PickRequest{ElementID: 999})
	require.NoError(t, err)
	assert.Equal(t, dom.ID(0), res.ID)
	assert.Empty(t, res.Selector)
	assert.NotNil(t, res.Elements)
	assert.Empty(t, res.Elements)
}

func TestScopedPick(t *testing.T) {
	fx := newFixture(t)

	root, err := fx.in.SetLookup(messages.Lookup{Selector: "li", Index: 0})
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "li", root.TagName)

	// inside the anchor
	res, err := fx.in.Pick(models.PickRequest{ElementID: fx.id(t, "span.price", 0)})
	require.NoError(t, err)
	assert.Equal(t, "span.price", res.Selector)
	assert.Len(t, res.Elements, 1)
	assert.Equal(t, 0, res.ParentOffset)

	// a sibling of the anchor shares its parent
	res, err = fx.in.Pick(models.PickRequest{ElementID: fx.id(t, "span.price", 1)})
	require.NoError(t, err)
	assert.Equal(t, "span.price", res.Selector)
	assert.Len(t, res.Elements, 2)
	assert.Equal(t, 1, res.PrimaryPick)
	assert.Equal(t, 1, res.ParentOffset)

	// the anchor itself is picked from its parent
	res, err = fx.in.Pick(models.PickRequest{ElementID: fx.id(t, "li", 0)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Selector)
	assert.Equal(t, 0, res.PrimaryPick)
	assert.Equal(t, 1, res.ParentOffset)
}

func TestLookupWidenNarrowAndClear(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.in.SetLookup(messages.Lookup{Selector: "span.price", Index: 0})
	require.NoError(t, err)

	d, err := fx.in.SetLookup(messages.Lookup{Widen: true})
	require.NoError(t, err)
	assert.Equal(t, "li", d.TagName)
	d, err = fx.in.SetLookup(messages.Lookup{Widen: true})
	require.NoError(t, err)
	assert.Equal(t, "ul", d.TagName)
	d, err = fx.in.SetLookup(messages.Lookup{Narrow: true})
	require.NoError(t, err)
	assert.Equal(t, "li", d.TagName)

	d, err = fx.in.SetLookup(messages.Lookup{})
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = fx.in.SetLookup(messages.Lookup{Selector: "li["})
	assert.True(t, query.IsSelectorError(err))
}

func TestScopedInspect(t *testing.T) {
	fx := newFixture(t)
	d, err := fx.in.ScopedInspect(messages.Inspect{Anchor: "span.name", Index: 1, Selector: "span.price", ParentOffset: 1})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NotNil(t, d.Label)
	assert.Equal(t, "£2", *d.Label)

	d, err = fx.in.ScopedInspect(messages.Inspect{Anchor: "table", Selector: "td"})
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestQueryElementsWithExtractor(t *testing.T) {
	fx := newFixture(t)
	els, err := fx.in.QueryElements("span.name", &models.Extractor{Source: "innerText"})
	require.NoError(t, err)
	require.Len(t, els, 3)
	require.NotNil(t, els[2].Data)
	assert.Equal(t, "Three", *els[2].Data)
}

func TestCurrentPageLifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	first, err := fx.in.CurrentPage(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.Page)
	assert.Equal(t, "shop.example", first.Page.Hostname)
	assert.Equal(t, "untitled", first.Page.Name)
	assert.Empty(t, first.Matches)

	again, err := fx.in.CurrentPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Page.ID, again.Page.ID, "empty page is reused")

	require.NoError(t, fx.st.CreateSelection(ctx, &models.Selection{
		ID: "items", Name: "items", PageID: first.Page.ID,
		Config: models.SelectionConfig{CSSSelector: "li.item"},
	}))
	matched, err := fx.in.CurrentPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Page.ID, matched.Page.ID)
	require.Len(t, matched.Matches, 1)
	assert.Equal(t, "items", matched.Matches[0].ID)
	assert.Len(t, matched.Matches[0].Elements, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.m.PagesTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.m.PagesTotal.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.m.PagesTotal.WithLabelValues("matched")))
}

func TestCurrentPageCreatesWhenNothingMatches(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	p, err := fx.st.CreatePage(ctx, "shop.example", "Old")
	require.NoError(t, err)
	require.NoError(t, fx.st.CreateSelection(ctx, &models.Selection{
		ID: "gone", PageID: p.ID, Config: models.SelectionConfig{CSSSelector: "table"},
	}))

	got, err := fx.in.CurrentPage(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, got.Page.ID)
	assert.Empty(t, got.Matches)
}

func TestCurrentPageWithoutStore(t *testing.T) {
	fx := newFixture(t)
	_, err := New(fx.f).CurrentPage(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestAnalyse(t *testing.T) {
	fx := newFixture(t)
	r, err := fx.in.Analyse(fx.id(t, "li", 0))
	require.NoError(t, err)
	assert.Greater(t, r.Stats.Nodes, 0)

	_, err = fx.in.Analyse(12345)
	assert.ErrorIs(t, err, dom.ErrNotFound)
}

func envelope(t *testing.T, kind messages.Kind, payload any) messages.Envelope {
	t.Helper()
	env, err := messages.New(kind, payload)
	require.NoError(t, err)
	return env
}

func TestDispatchEdits(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	reply := fx.in.Dispatch(ctx, messages.Envelope{Action: messages.GetCurrentPage})
	require.Equal(t, messages.CurrentPage, reply.Action)
	var pm messages.PageMatches
	require.NoError(t, reply.Decode(&pm))
	pageID := pm.Page.ID

	reply = fx.in.Dispatch(ctx, envelope(t, messages.CreateSelection, messages.NewSelection{
		SelectionID: "s1", Name: "items", PageID: pageID, CSSSelector: "li.item",
	}))
	require.Equal(t, messages.CurrentPage, reply.Action)
	require.NoError(t, reply.Decode(&pm))
	require.Len(t, pm.Matches, 1)

	reply = fx.in.Dispatch(ctx, envelope(t, messages.CreateAttachment, messages.AttachmentEdit{
		SelectionID: "s1", AttachmentID: "a1", Name: "price", CSSSelector: "span.price", ParentOffset: 1,
	}))
	require.NoError(t, reply.Decode(&pm))
	require.Len(t, pm.Matches, 2)
	assert.Equal(t, "a1", pm.Matches[1].ID)
	assert.Len(t, pm.Matches[1].Elements, 2)

	reply = fx.in.Dispatch(ctx, envelope(t, messages.RemoveAttachment, messages.AttachmentRef{SelectionID: "s1", AttachmentID: "a1"}))
	require.NoError(t, reply.Decode(&pm))
	assert.Len(t, pm.Matches, 1)

	reply = fx.in.Dispatch(ctx, envelope(t, messages.UpdateSelection, messages.SelectionEdit{SelectionID: "s1", Name: "featured", CSSSelector: "li.featured"}))
	require.NoError(t, reply.Decode(&pm))
	require.Len(t, pm.Matches, 1)
	assert.Len(t, pm.Matches[0].Elements, 1)

	reply = fx.in.Dispatch(ctx, envelope(t, messages.RemoveSelection, messages.SelectionRef{SelectionID: "s1"}))
	require.NoError(t, reply.Decode(&pm))
	assert.Equal(t, pageID, pm.Page.ID)
	assert.Empty(t, pm.Matches)
}

func TestDispatchRejectsReplies(t *testing.T) {
	fx := newFixture(t)
	reply := fx.in.Dispatch(context.Background(), envelope(t, messages.PickedElements, models.PickResult{}))
	require.Equal(t, messages.Error, reply.Action)

	var failure messages.Failure
	require.NoError(t, reply.Decode(&failure))
	assert.Equal(t, messages.PickedElements, failure.Action)
	assert.Contains(t, failure.Message, "not a request")
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.m.MessagesTotal.WithLabelValues("pickedElements", "error")))
}

func TestDispatchSelectorErrorIsReported(t *testing.T) {
	fx := newFixture(t)
	reply := fx.in.Dispatch(context.Background(), envelope(t, messages.QueryElements, messages.Query{Selector: "li:bogus"}))
	assert.Equal(t, messages.Error, reply.Action)
}

func TestServe(t *testing.T) {
	fx := newFixture(t)
	pick, err := json.Marshal(envelope(t, messages.PickElement, models.PickRequest{ElementID: fx.id(t, "li", 2)}))
	require.NoError(t, err)

	in := strings.Join([]string{
		`{"action":"getCurrentPage"}`,
		`{"action":"saveElement","payload":"li"}`,
		string(pick),
	}, "\n")
	var out strings.Builder
	require.NoError(t, fx.in.Serve(context.Background(), strings.NewReader(in), &out))

	var actions []messages.Kind
	sc := bufio.NewScanner(strings.NewReader(out.String()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var env messages.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		actions = append(actions, env.Action)
	}
	assert.Equal(t, []messages.Kind{
		messages.PageReady, messages.CurrentPage, messages.Error, messages.PickedElements,
	}, actions)
}

func TestLoadResetsLookup(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.in.SetLookup(messages.Lookup{Selector: "li", Index: 0})
	require.NoError(t, err)

	f, err := dom.ParseString(shop)
	require.NoError(t, err)
	fx.in.Load(f)
	d, err := fx.in.SetLookup(messages.Lookup{Widen: true})
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Same(t, f, fx.in.Frame())
}
