// Package browser renders pages in headless Chrome through rod so frames
// carry real layout boxes instead of the markup-only flow estimate.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/aluiziolira/awtomato/dom"
)

// Options configures the renderer.
type Options struct {
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string
	// RemoteURL connects to a running browser instead of launching one.
	RemoteURL string
	Stealth   bool
	Timeout   time.Duration
	Width     int
	Height    int
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Width <= 0 {
		o.Width = int(dom.DefaultViewport.Width)
	}
	if o.Height <= 0 {
		o.Height = int(dom.DefaultViewport.Height)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Renderer owns one browser process.
type Renderer struct {
	opts Options

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// Launch starts Chrome, or connects to opts.RemoteURL.
func Launch(opts Options) (*Renderer, error) {
	opts.defaults()
	log := opts.Logger

	wsURL := opts.RemoteURL
	var l *launcher.Launcher
	if wsURL == "" {
		l = launcher.New().Headless(true)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("browser: launched local chrome", "url", wsURL)
	} else {
		log.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return &Renderer{opts: opts, browser: b, lnch: l}, nil
}

// Render loads pageURL in a fresh tab and captures it as a frame.
func (r *Renderer) Render(ctx context.Context, pageURL string, frameOpts ...dom.Option) (*dom.Frame, error) {
	r.mu.Lock()
	b := r.browser
	closed := r.closed
	r.mu.Unlock()
	if closed || b == nil {
		return nil, fmt.Errorf("browser: renderer is closed")
	}

	page, err := r.openPage(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		r.opts.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(snapshotJS)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot %s: %w", pageURL, err)
	}
	snap, err := decodeSnapshot(res.Value.Str())
	if err != nil {
		return nil, err
	}
	if snap.URL == "" {
		snap.URL = pageURL
	}
	return snap.Frame(frameOpts...)
}

func (r *Renderer) openPage(b *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if r.opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.opts.Width,
		Height:            r.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		r.opts.Logger.Warn("browser: set viewport failed", "error", err)
	}
	return page, nil
}

// Close shuts the browser down. Safe to call twice.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}
