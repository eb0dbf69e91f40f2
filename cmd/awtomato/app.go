package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/html"

	"github.com/aluiziolira/awtomato/browser"
	"github.com/aluiziolira/awtomato/config"
	"github.com/aluiziolira/awtomato/describe"
	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/fetch"
	"github.com/aluiziolira/awtomato/inspector"
	"github.com/aluiziolira/awtomato/match"
	"github.com/aluiziolira/awtomato/messages"
	"github.com/aluiziolira/awtomato/models"
	"github.com/aluiziolira/awtomato/pipeline"
	"github.com/aluiziolira/awtomato/query"
	"github.com/aluiziolira/awtomato/store"
)

var errNoSource = errors.New("no page source: set -url or -file")

type app struct {
	cfg  *config.Config
	opts options
	out  io.Writer

	engine   *query.Engine
	store    *store.Store
	fetcher  *fetch.Fetcher
	renderer *browser.Renderer
	metrics  *inspector.Metrics
}

func newApp(cfg *config.Config, opts options, registry *prometheus.Registry) (*app, error) {
	engine, err := query.NewEngine(cfg.SelectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("query engine: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		opts:    opts,
		out:     os.Stdout,
		engine:  engine,
		store:   st,
		metrics: inspector.NewMetrics(registry),
	}
	if cfg.File == "" && cfg.Render == config.RenderHTTP {
		a.fetcher, err = fetch.NewFetcher(cfg, fetch.NewMetrics(registry), a.frameOptions()...)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initialising fetcher: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func (a *app) run(ctx context.Context, mode string) error {
	switch mode {
	case "pick":
		return a.pick(ctx)
	case "match":
		return a.match(ctx)
	case "extract":
		return a.extract(ctx)
	case "analyze", "analyse":
		return a.analyze(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func (a *app) frameOptions() []dom.Option {
	return []dom.Option{
		dom.WithLandingArea(a.cfg.LandingAreaID),
		dom.WithViewport(dom.Viewport{
			Width:  float64(a.cfg.ViewportWidth),
			Height: float64(a.cfg.ViewportHeight),
		}),
	}
}

// load returns the single document named by the configuration.
func (a *app) load(ctx context.Context) (*dom.Frame, error) {
	switch {
	case a.cfg.File != "":
		return a.loadFile()
	case a.cfg.URL == "":
		return nil, errNoSource
	case a.cfg.Render == config.RenderBrowser:
		r, err := a.browser()
		if err != nil {
			return nil, err
		}
		return r.Render(ctx, a.cfg.URL, dom.WithLandingArea(a.cfg.LandingAreaID))
	default:
		return a.fetcher.Fetch(ctx, a.cfg.URL)
	}
}

func (a *app) loadFile() (*dom.Frame, error) {
	f, err := os.Open(a.cfg.File)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.File, err)
	}
	defer f.Close()

	opts := a.frameOptions()
	if a.cfg.URL != "" {
		u, err := url.Parse(a.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		opts = append(opts, dom.WithURL(u))
	}
	return dom.Parse(f, opts...)
}

func (a *app) browser() (*browser.Renderer, error) {
	if a.renderer != nil {
		return a.renderer, nil
	}
	r, err := browser.Launch(browser.Options{
		Bin:       a.cfg.BrowserBin,
		RemoteURL: a.cfg.BrowserURL,
		Stealth:   a.cfg.Stealth,
		Timeout:   a.cfg.Timeout,
		Width:     a.cfg.ViewportWidth,
		Height:    a.cfg.ViewportHeight,
	})
	if err != nil {
		return nil, err
	}
	a.renderer = r
	return r, nil
}

func (a *app) inspector(f *dom.Frame) *inspector.Inspector {
	return inspector.New(f,
		inspector.WithEngine(a.engine),
		inspector.WithStore(a.store),
		inspector.WithMetrics(a.metrics),
	)
}

// element resolves -target, or -x/-y, to a registry id. Zero means none given.
func (a *app) element(f *dom.Frame) (dom.ID, error) {
	switch {
	case a.opts.target != "":
		n, err := a.engine.First(f, a.opts.target, nil)
		if err != nil {
			return 0, err
		}
		if n == nil {
			return 0, fmt.Errorf("target %q matches nothing", a.opts.target)
		}
		return f.Identify(n), nil
	case a.opts.x >= 0 && a.opts.y >= 0:
		n := f.ElementAt(float64(a.opts.x), float64(a.opts.y))
		if n == nil {
			return 0, fmt.Errorf("no element at (%d, %d)", a.opts.x, a.opts.y)
		}
		return f.Identify(n), nil
	}
	return 0, nil
}

func (a *app) pick(ctx context.Context) error {
	f, err := a.load(ctx)
	if err != nil {
		return err
	}
	id, err := a.element(f)
	if err != nil {
		return err
	}
	if id == 0 {
		return errors.New("pick needs -target or -x/-y")
	}

	req := models.PickRequest{ElementID: id, Rejects: []dom.ID{}}
	for _, sel := range strings.Split(a.opts.rejects, ",") {
		if sel = strings.TrimSpace(sel); sel == "" {
			continue
		}
		nodes, err := a.engine.QueryAll(f, sel, nil)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			req.Rejects = append(req.Rejects, f.Identify(n))
		}
	}

	res, err := a.inspector(f).Pick(req)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) match(ctx context.Context) error {
	f, err := a.load(ctx)
	if err != nil {
		return err
	}
	pages, err := a.store.GetPages(ctx, f.Host())
	if err != nil {
		return err
	}
	matcher := a.inspector(f).Matcher()
	out := make([]messages.PageMatches, 0, len(pages))
	for _, page := range pages {
		out = append(out, messages.PageMatches{Page: page, Matches: matcher.MatchPage(f, page)})
	}
	return a.print(out)
}

func (a *app) analyze(ctx context.Context) error {
	f, err := a.load(ctx)
	if err != nil {
		return err
	}
	id, err := a.element(f)
	if err != nil {
		return err
	}
	report, err := a.inspector(f).Analyse(id)
	if err != nil {
		return err
	}
	return a.print(report)
}

func (a *app) serve(ctx context.Context) error {
	f, err := a.load(ctx)
	if err != nil {
		return err
	}
	slog.Info("serving inspector", slog.String("host", f.Host()), slog.String("title", f.Title()))
	return a.inspector(f).Serve(ctx, os.Stdin, a.out)
}

func (a *app) extract(ctx context.Context) error {
	writer, err := pipeline.NewWriter(a.cfg.OutputFormat, a.cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, a.cfg)
	p.Start(a.cfg.Workers)
	if a.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	matcher := match.New(a.engine, describe.New(a.engine))
	matcher.OnSelectorError = func(string, string, error) { a.metrics.IncSelectorFailure() }
	visit := func(f *dom.Frame) error {
		return a.extractFrame(ctx, matcher, p, f)
	}

	startTime := time.Now()
	result := &models.RunResult{StartTime: startTime, ErrorsByType: map[string]int{}}
	switch {
	case a.cfg.File == "" && a.cfg.URL == "":
		err = errNoSource
	case a.fetcher != nil:
		slog.Info("starting extract",
			slog.String("url", a.cfg.URL),
			slog.Int("pages", a.cfg.MaxPages),
			slog.Int("workers", a.cfg.Workers),
		)
		result, err = a.fetcher.Run(ctx, a.cfg.URL, visit)
	default:
		var f *dom.Frame
		if f, err = a.load(ctx); err == nil {
			result.RequestCount, result.PageCount = 1, 1
			if verr := visit(f); verr != nil {
				result.ErrorCount++
				result.ErrorsByType["visit"]++
			}
		}
	}
	if err != nil {
		p.Close()
		return err
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	metrics := p.GetMetrics()
	processed, _ := metrics["processed_rows"].(int64)
	if processed > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	}
	result.TotalCount = int(processed)
	result.EndTime = time.Now()

	duration := time.Since(startTime)
	rowsPerSec := 0.0
	if duration.Seconds() > 0 {
		rowsPerSec = float64(processed) / duration.Seconds()
	}
	printSummary(a.out, result, duration, rowsPerSec, a.cfg.OutputFile, metrics)
	return nil
}

func (a *app) extractFrame(ctx context.Context, matcher *match.Matcher, p *pipeline.Pipeline, f *dom.Frame) error {
	pages, err := a.store.GetPages(ctx, f.Host())
	if err != nil {
		return err
	}
	matched := false
	for _, page := range pages {
		if !matcher.Matches(f, page) {
			continue
		}
		matched = true
		a.metrics.IncPage("matched")
		if err := p.Process(matcher.Extract(f, page)...); err != nil {
			return err
		}
		if a.opts.snapshot && f.URL != nil {
			var buf bytes.Buffer
			if err := html.Render(&buf, f.Root); err != nil {
				return fmt.Errorf("render snapshot: %w", err)
			}
			if err := a.store.SaveHTML(ctx, page.ID, f.URL.String(), buf.String()); err != nil {
				return err
			}
		}
	}
	if !matched {
		a.metrics.IncPage("empty")
		slog.Info("no stored page matches", slog.String("host", f.Host()), slog.String("title", f.Title()))
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, result *models.RunResult, duration time.Duration, rowsPerSec float64, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Extract complete")
	fmt.Fprintf(w, "  Rows:          %d\n", result.TotalCount)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Rows/sec:      %.2f\n", rowsPerSec)
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}
