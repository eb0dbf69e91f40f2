package browser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

func capture(t *testing.T, snap Snapshot) string {
	t.Helper()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	return string(raw)
}

func TestSnapshotFrameMapsBoxes(t *testing.T) {
	raw := capture(t, Snapshot{
		URL: "https://shop.example/list",
		HTML: `<html data-awt-idx="0"><head data-awt-idx="1"></head><body data-awt-idx="2">` +
			`<p id="a" data-awt-idx="3">one</p><p id="b" data-awt-idx="4">two</p></body></html>`,
		Viewport: dom.Viewport{ScrollY: 100, Width: 800, Height: 600},
		Rects: []Box{
			{Index: 2, Width: 800, Height: 400},
			{Index: 3, Left: 10, Top: 20, Width: 100, Height: 30},
			{Index: 4, Left: 10, Top: 60, Width: 0, Height: 0},
		},
	})

	snap, err := decodeSnapshot(raw)
	require.NoError(t, err)
	f, err := snap.Frame()
	require.NoError(t, err)

	a := dom.FindElement(f.Root, func(n *html.Node) bool { return dom.AttrOr(n, "id", "") == "a" })
	b := dom.FindElement(f.Root, func(n *html.Node) bool { return dom.AttrOr(n, "id", "") == "b" })
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.Equal(t, dom.Rect{Left: 10, Top: 20, Width: 100, Height: 30}, f.Box(a))
	assert.True(t, f.IsVisible(a))
	assert.False(t, f.IsVisible(b))
	assert.Equal(t, "shop.example", f.Host())
	assert.Equal(t, 100.0, f.Viewport.ScrollY)

	// document point = client point + scroll
	assert.Same(t, a, f.ElementAt(15, 125))

	dom.Walk(f.Root, func(n *html.Node) bool {
		if dom.IsElement(n) {
			_, stamped := dom.Attr(n, indexAttr)
			assert.False(t, stamped, "stamp left on <%s>", n.Data)
		}
		return true
	})
}

func TestSnapshotFrameOptionsOverride(t *testing.T) {
	raw := capture(t, Snapshot{HTML: `<html><body><div id="ui"></div></body></html>`})
	snap, err := decodeSnapshot(raw)
	require.NoError(t, err)

	f, err := snap.Frame(dom.WithLandingArea("ui"))
	require.NoError(t, err)
	assert.Equal(t, "ui", f.LandingAreaID)
	assert.Nil(t, f.URL)
}

func TestDecodeSnapshotErrors(t *testing.T) {
	_, err := decodeSnapshot("not json")
	assert.Error(t, err)

	_, err = decodeSnapshot(`{"html":"  "}`)
	assert.ErrorContains(t, err, "empty document")
}
