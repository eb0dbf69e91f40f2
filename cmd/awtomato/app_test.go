package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/awtomato/config"
	"github.com/aluiziolira/awtomato/models"
)

const shopPage = `<html><head><title>Shop</title></head><body>
<ul class="items">
<li class="item"><span class="name">Mug</span><span class="price">£1.00</span></li>
<li class="item"><span class="name">Cup</span><span class="price">£2.00</span></li>
<li class="item"><span class="name">Jug</span><span class="price">£3.00</span></li>
</ul></body></html>`

func newTestApp(t *testing.T, opts options) (*app, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	page := filepath.Join(dir, "shop.html")
	if err := os.WriteFile(page, []byte(shopPage), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.File = page
	cfg.URL = "https://shop.example/list"
	cfg.DBPath = ":memory:"
	cfg.OutputFile = filepath.Join(dir, "out", "rows.csv")
	cfg.Workers = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	a, err := newApp(cfg, opts, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	var out bytes.Buffer
	a.out = &out
	return a, &out
}

func seedSelection(t *testing.T, a *app, css string) *models.Page {
	t.Helper()
	ctx := context.Background()
	page, err := a.store.CreatePage(ctx, "shop.example", "shop")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	sel := &models.Selection{
		PageID: page.ID,
		Name:   "prices",
		Config: models.SelectionConfig{CSSSelector: css, Attachments: []*models.Attachment{}},
	}
	if err := a.store.CreateSelection(ctx, sel); err != nil {
		t.Fatalf("create selection: %v", err)
	}
	return page
}

func TestExtractFromFile(t *testing.T) {
	a, out := newTestApp(t, options{x: -1, y: -1, snapshot: true})
	page := seedSelection(t, a, "li.item span.price")

	if err := a.run(context.Background(), "extract"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out.String(), "Rows:          3") {
		t.Fatalf("summary missing row count:\n%s", out.String())
	}

	f, err := os.Open(a.cfg.OutputFile)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want header plus 3 rows", len(records))
	}

	snap, err := a.store.GetHTML(context.Background(), page.ID)
	if err != nil {
		t.Fatalf("get html: %v", err)
	}
	if snap == nil || !strings.Contains(snap.HTML, "Jug") {
		t.Fatalf("snapshot not stored: %+v", snap)
	}
}

func TestPickByTarget(t *testing.T) {
	a, out := newTestApp(t, options{target: "li:nth-child(2) span.price", x: -1, y: -1})

	if err := a.run(context.Background(), "pick"); err != nil {
		t.Fatalf("pick: %v", err)
	}
	var res models.PickResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode pick: %v\n%s", err, out.String())
	}
	if res.Selector == "" || len(res.Elements) != 3 {
		t.Fatalf("pick = %q with %d elements, want a selector over all prices", res.Selector, len(res.Elements))
	}
}

func TestPickNeedsTarget(t *testing.T) {
	a, _ := newTestApp(t, options{x: -1, y: -1})
	if err := a.run(context.Background(), "pick"); err == nil {
		t.Fatal("expected error without -target")
	}
}

func TestMatchListsPages(t *testing.T) {
	a, out := newTestApp(t, options{x: -1, y: -1})
	seedSelection(t, a, "span.name")

	if err := a.run(context.Background(), "match"); err != nil {
		t.Fatalf("match: %v", err)
	}
	var got []json.RawMessage
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode match: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("pages = %d, want 1", len(got))
	}
}

func TestUnknownMode(t *testing.T) {
	a, _ := newTestApp(t, options{x: -1, y: -1})
	if err := a.run(context.Background(), "levitate"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
