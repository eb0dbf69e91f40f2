package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/query"
)

const tree = `<html><body>
<section id="s">
  <article id="a1"><h2 id="t1">One</h2><p id="p1">£1</p></article>
  <article id="a2"><h2 id="t2">Two</h2><div><p id="p2">£2</p></div></article>
</section>
</body></html>`

func parse(t *testing.T) *dom.Frame {
	t.Helper()
	f, err := dom.ParseString(tree)
	require.NoError(t, err)
	return f
}

func el(f *dom.Frame, id string) *html.Node {
	return dom.FindElement(f.Root, func(n *html.Node) bool { return dom.AttrOr(n, "id", "") == id })
}

func TestNthParent(t *testing.T) {
	f := parse(t)
	p2 := el(f, "p2")

	assert.Same(t, p2, NthParent(p2, 0))
	assert.Same(t, el(f, "a2"), NthParent(p2, 2))
	assert.Same(t, f.Body(), NthParent(p2, 4))
	assert.Same(t, f.Body(), NthParent(p2, 100))
	assert.Nil(t, NthParent(nil, 3))
}

func TestCommonAncestor(t *testing.T) {
	f := parse(t)

	tests := []struct {
		name       string
		anchor     string
		node       string
		want       string
		wantOffset int
	}{
		{name: "descendant", anchor: "a1", node: "p1", want: "a1", wantOffset: 0},
		{name: "same node", anchor: "p1", node: "p1", want: "p1", wantOffset: 0},
		{name: "siblings", anchor: "t1", node: "p1", want: "a1", wantOffset: 1},
		{name: "cousins", anchor: "t1", node: "p2", want: "s", wantOffset: 2},
		{name: "deeper anchor", anchor: "p2", node: "t2", want: "a2", wantOffset: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := el(f, tt.anchor)
			got, offset := CommonAncestor(anchor, el(f, tt.node))
			assert.Same(t, el(f, tt.want), got)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Same(t, got, NthParent(anchor, offset))
		})
	}

	got, offset := CommonAncestor(nil, el(f, "p1"))
	assert.Nil(t, got)
	assert.Zero(t, offset)
}

func TestLookupLifecycle(t *testing.T) {
	f := parse(t)
	e := query.MustEngine()
	var l Lookup

	root, err := l.Set(f, e, "article", 1, 0)
	require.NoError(t, err)
	assert.Same(t, el(f, "a2"), root)
	assert.True(t, l.Active())

	assert.Same(t, el(f, "s"), l.Widen())
	assert.Same(t, f.Body(), l.Widen())
	assert.Same(t, f.Body(), l.Widen())
	assert.Equal(t, 2, l.ParentOffset)

	assert.Same(t, el(f, "s"), l.Narrow())
	assert.Same(t, el(f, "a2"), l.Narrow())
	assert.Same(t, el(f, "a2"), l.Narrow())

	root, err = l.Set(f, e, "article", 5, 0)
	require.NoError(t, err)
	assert.Nil(t, root)
	assert.False(t, l.Active())

	_, err = l.Set(f, e, "article[", 0, 0)
	assert.True(t, query.IsSelectorError(err))

	root, err = l.Set(f, e, "", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, root)
}
