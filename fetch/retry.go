package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/awtomato/config"
)

type retryManager struct {
	collector *colly.Collector
	cfg       *config.Config
	metrics   *Metrics
	ctx       context.Context

	mu           sync.Mutex
	idle         *sync.Cond
	attempts     map[string]int
	timers       map[string]*time.Timer
	pending      int
	totalRetries int
	stopped      bool
}

func newRetryManager(collector *colly.Collector, cfg *config.Config, metrics *Metrics) *retryManager {
	rm := &retryManager{
		collector: collector,
		cfg:       cfg,
		attempts:  make(map[string]int),
		timers:    make(map[string]*time.Timer),
		metrics:   metrics,
		ctx:       context.Background(),
	}
	rm.idle = sync.NewCond(&rm.mu)
	return rm
}

// Start resets per-run state.
func (rm *retryManager) Start(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	rm.ctx = ctx
	rm.attempts = make(map[string]int)
	rm.timers = make(map[string]*time.Timer)
	rm.pending = 0
	rm.totalRetries = 0
	rm.stopped = false
}

// Schedule queues another attempt for url. It reports false once the
// retry budget for url is spent or the run is over.
func (rm *retryManager) Schedule(url string) bool {
	if rm.cfg.MaxRetries == 0 || url == "" {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	if old, ok := rm.timers[url]; ok && old.Stop() {
		rm.pending--
	}
	var timer *time.Timer
	timer = time.AfterFunc(rm.backoff(attempt), func() {
		rm.fire(url, &timer)
	})
	rm.timers[url] = timer
	rm.pending++
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// fire runs a scheduled retry. timer is read under the lock Schedule held
// while assigning it.
func (rm *retryManager) fire(url string, timer **time.Timer) {
	rm.mu.Lock()
	if rm.timers[url] == *timer {
		delete(rm.timers, url)
	}
	skip := rm.stopped || rm.ctx.Err() != nil
	rm.mu.Unlock()

	if !skip {
		if err := rm.collector.Visit(url); err != nil {
			slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	rm.pending--
	rm.idle.Broadcast()
	rm.mu.Unlock()
}

// WaitIdle blocks until every scheduled retry has been handed to the
// collector. It reports whether anything was waited on.
func (rm *retryManager) WaitIdle() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.pending == 0 || rm.stopped {
		return false
	}
	for rm.pending > 0 && !rm.stopped {
		rm.idle.Wait()
	}
	return true
}

// Stop cancels outstanding timers. Retries already firing finish.
func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, timer := range rm.timers {
		if timer.Stop() {
			rm.pending--
		}
		delete(rm.timers, url)
	}
	rm.idle.Broadcast()
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
