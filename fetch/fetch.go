// Package fetch loads pages over HTTP with colly and turns every response
// into a dom.Frame. Failed requests are retried with capped exponential
// backoff; pagination links can be followed up to a page budget.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/awtomato/config"
	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/models"
)

// Visitor receives every parsed document. Returning an error counts the
// page as failed without stopping the run.
type Visitor func(f *dom.Frame) error

// Fetcher wraps the colly collector and retry logic. Runs must not overlap.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	frameOpts []dom.Option
	Metrics   *Metrics

	// per run
	ctx    context.Context
	visit  Visitor
	follow bool
	seen   map[string]struct{}

	requestCount int64
	pageCount    int64
	queued       int64
	errorCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
	lastErr      error

	handlersOnce sync.Once
}

// NewFetcher builds a fetcher configured from cfg. frameOpts apply to
// every parsed document after the URL.
func NewFetcher(cfg *config.Config, metrics *Metrics, frameOpts ...dom.Option) (*Fetcher, error) {
	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	// retries revisit; followed links are de-duplicated by the fetcher
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	f := &Fetcher{
		cfg:          cfg,
		collector:    collector,
		frameOpts:    frameOpts,
		errorsByType: make(map[string]int),
		Metrics:      metrics,
		ctx:          context.Background(),
	}
	f.retry = newRetryManager(collector, cfg, metrics)
	return f, nil
}

// Fetch loads a single document.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*dom.Frame, error) {
	var frame *dom.Frame
	if _, err := f.run(ctx, rawURL, false, func(fr *dom.Frame) error {
		frame = fr
		return nil
	}); err != nil {
		return nil, err
	}
	if frame == nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.lastErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, f.lastErr)
		}
		return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrNoDocument)
	}
	return frame, nil
}

// Run loads start and, when a follow selector is configured, the pages it
// links to, handing every document to visit.
func (f *Fetcher) Run(ctx context.Context, start string, visit Visitor) (*models.RunResult, error) {
	return f.run(ctx, start, f.cfg.FollowSelector != "", visit)
}

func (f *Fetcher) run(ctx context.Context, start string, follow bool, visit Visitor) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parsed, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("url must include a host")
	}
	f.collector.AllowedDomains = []string{parsed.Hostname()}

	f.reset(ctx, follow, visit)
	f.retry.Start(ctx)
	f.configureHandlers()

	began := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			f.retry.Stop()
		case <-done:
		}
	}()

	f.markSeen(parsed.String())
	atomic.StoreInt64(&f.queued, 1)
	if err := f.collector.Visit(parsed.String()); err != nil {
		return nil, fmt.Errorf("initial visit: %w", err)
	}

	// retries fire after Wait returns; keep waiting until none are pending
	for {
		f.collector.Wait()
		if !f.retry.WaitIdle() {
			break
		}
	}
	f.retry.Stop()
	f.collector.Wait()

	return &models.RunResult{
		StartTime:    began,
		EndTime:      time.Now(),
		ErrorCount:   int(atomic.LoadInt64(&f.errorCount)),
		FailedURLs:   f.snapshotFailedURLs(),
		ErrorsByType: f.snapshotErrors(),
		RetryCount:   f.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&f.requestCount)),
		PageCount:    int(atomic.LoadInt64(&f.pageCount)),
	}, nil
}

func (f *Fetcher) reset(ctx context.Context, follow bool, visit Visitor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx = ctx
	f.visit = visit
	f.follow = follow
	f.seen = make(map[string]struct{})
	f.failedURLs = nil
	f.errorsByType = make(map[string]int)
	f.lastErr = nil
	atomic.StoreInt64(&f.requestCount, 0)
	atomic.StoreInt64(&f.pageCount, 0)
	atomic.StoreInt64(&f.errorCount, 0)
}

// markSeen records u and reports whether it was new.
func (f *Fetcher) markSeen(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[u]; ok {
		return false
	}
	f.seen[u] = struct{}{}
	return true
}

func (f *Fetcher) current() (context.Context, Visitor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx, f.visit, f.follow
}

func (f *Fetcher) configureHandlers() {
	f.handlersOnce.Do(func() {
		f.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			current := atomic.AddInt64(&f.requestCount, 1)
			f.Metrics.IncRequest("started")
			slog.Debug("fetch request",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		})

		f.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				f.Metrics.ObserveDuration(time.Since(start))
			}
			_, visit, _ := f.current()
			opts := append([]dom.Option{dom.WithURL(r.Request.URL)}, f.frameOpts...)
			frame, err := dom.Parse(bytes.NewReader(r.Body), opts...)
			if err != nil {
				slog.Error("parse document", slog.String("url", r.Request.URL.String()), slog.Any("error", err))
				f.recordFailure(r.Request.URL.String(), "parse", err)
				return
			}
			atomic.AddInt64(&f.pageCount, 1)
			f.Metrics.IncPages()
			if visit == nil {
				return
			}
			if err := visit(frame); err != nil {
				slog.Error("visit document", slog.String("url", r.Request.URL.String()), slog.Any("error", err))
				f.recordFailure(r.Request.URL.String(), "visit", err)
			}
		})

		f.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&f.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := ErrorType(classified)

			f.mu.Lock()
			f.errorsByType[category]++
			f.lastErr = classified
			f.mu.Unlock()

			target := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
			slog.Error("request error",
				slog.String("url", target),
				slog.String("category", category),
				slog.Any("error", err),
			)
			f.Metrics.IncError(category)

			if !f.retry.Schedule(target) {
				f.mu.Lock()
				f.failedURLs = append(f.failedURLs, target)
				f.mu.Unlock()
			}
		})

		if sel := f.cfg.FollowSelector; sel != "" {
			f.collector.OnHTML(sel, func(e *colly.HTMLElement) {
				ctx, _, follow := f.current()
				if !follow || ctx.Err() != nil {
					return
				}
				abs := e.Request.AbsoluteURL(e.Attr("href"))
				if abs == "" {
					return
				}
				if !f.markSeen(abs) {
					return
				}
				if atomic.AddInt64(&f.queued, 1) > int64(f.cfg.MaxPages) {
					atomic.AddInt64(&f.queued, -1)
					return
				}
				if err := f.collector.Visit(abs); err != nil {
					slog.Debug("follow link failed", slog.String("url", abs), slog.Any("error", err))
				}
			})
		}
	})
}

func (f *Fetcher) recordFailure(target, category string, err error) {
	atomic.AddInt64(&f.errorCount, 1)
	f.Metrics.IncError(category)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorsByType[category]++
	f.failedURLs = append(f.failedURLs, target)
	f.lastErr = err
}

func (f *Fetcher) snapshotFailedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.failedURLs))
	copy(out, f.failedURLs)
	return out
}

func (f *Fetcher) snapshotErrors() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		out[k] = v
	}
	return out
}
