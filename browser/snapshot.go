package browser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/dom"
)

// indexAttr is stamped on every element before serialising so boxes can be
// matched back to parsed nodes.
const indexAttr = "data-awt-idx"

// snapshotJS returns a JSON string: outer HTML, viewport metrics and the
// client rect of every element keyed by its stamp.
const snapshotJS = `() => {
	const els = document.documentElement.querySelectorAll('*');
	const rects = [];
	let i = 0;
	const stamp = (el) => {
		el.setAttribute('` + indexAttr + `', String(i));
		const r = el.getBoundingClientRect();
		rects.push({i: i, left: r.left, top: r.top, width: r.width, height: r.height});
		i++;
	};
	stamp(document.documentElement);
	els.forEach(stamp);
	const out = {
		url: location.href,
		html: document.documentElement.outerHTML,
		viewport: {
			scrollX: window.scrollX,
			scrollY: window.scrollY,
			width: window.innerWidth,
			height: window.innerHeight,
		},
		rects: rects,
	};
	document.querySelectorAll('[` + indexAttr + `]').forEach((el) => el.removeAttribute('` + indexAttr + `'));
	return JSON.stringify(out);
}`

// Box is the client rect of the element stamped with Index.
type Box struct {
	Index  int     `json:"i"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Snapshot is the rendered state of a page as captured by snapshotJS.
type Snapshot struct {
	URL      string       `json:"url"`
	HTML     string       `json:"html"`
	Viewport dom.Viewport `json:"viewport"`
	Rects    []Box        `json:"rects"`
}

// decodeSnapshot parses the string snapshotJS returns.
func decodeSnapshot(raw string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if strings.TrimSpace(snap.HTML) == "" {
		return nil, fmt.Errorf("decode snapshot: empty document")
	}
	return &snap, nil
}

// Frame parses the snapshot into a frame whose layout is the captured boxes.
// Stamps are stripped from the tree once mapped.
func (s *Snapshot) Frame(opts ...dom.Option) (*dom.Frame, error) {
	root, err := html.Parse(strings.NewReader(s.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	byIndex := make(map[int]dom.Rect, len(s.Rects))
	for _, r := range s.Rects {
		byIndex[r.Index] = dom.Rect{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}
	}

	layout := make(dom.MapLayout, len(s.Rects))
	dom.Walk(root, func(n *html.Node) bool {
		if !dom.IsElement(n) {
			return true
		}
		if v, ok := dom.Attr(n, indexAttr); ok {
			if idx, err := strconv.Atoi(v); err == nil {
				if box, ok := byIndex[idx]; ok {
					layout[n] = box
				}
			}
			dom.RemoveAttr(n, indexAttr)
		}
		return true
	})

	all := []dom.Option{dom.WithLayout(layout), dom.WithViewport(s.Viewport)}
	if s.URL != "" {
		if u, err := url.Parse(s.URL); err == nil {
			all = append(all, dom.WithURL(u))
		}
	}
	return dom.NewFrame(root, append(all, opts...)...), nil
}
