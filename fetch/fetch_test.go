package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/awtomato/config"
	"github.com/aluiziolira/awtomato/dom"
)

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rm := newRetryManager(colly.NewCollector(), cfg, NewMetrics(nil))
	rm.Start(context.Background())

	if !rm.Schedule("http://example.com/page") {
		t.Fatalf("first retry should be scheduled")
	}
	if !rm.Schedule("http://example.com/page") {
		t.Fatalf("second retry should be scheduled")
	}
	if rm.Schedule("http://example.com/page") {
		t.Fatalf("third retry should not be scheduled")
	}

	rm.Stop()
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
	if rm.WaitIdle() {
		t.Fatalf("stopped manager should not wait")
	}
}

func TestRetryManagerStoppedRefuses(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 3

	rm := newRetryManager(colly.NewCollector(), cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	rm.Start(ctx)
	cancel()

	if rm.Schedule("http://example.com/page") {
		t.Fatalf("cancelled run should not schedule retries")
	}
}

func TestRetryManagerBackoff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rm := newRetryManager(colly.NewCollector(), cfg, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 200 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 4, want: 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := rm.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.URL = "http://example.test/"
	cfg.Parallelism = 1
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newTestFetcher(t *testing.T, cfg *config.Config, transport http.RoundTripper) *Fetcher {
	t.Helper()
	f, err := NewFetcher(cfg, NewMetrics(nil), dom.WithLandingArea(cfg.LandingAreaID))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.collector.WithTransport(transport)
	return f
}

func TestFetcherHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()

			transport := httpmock.NewMockTransport()
			responder := httpmock.NewStringResponder(tt.status, "")
			transport.RegisterResponder("GET", cfg.URL, responder)
			transport.RegisterResponder("GET", strings.TrimSuffix(cfg.URL, "/"), responder)

			f := newTestFetcher(t, cfg, transport)
			result, err := f.Run(context.Background(), cfg.URL, nil)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d, got %v", tt.expected, tt.status, result.ErrorsByType)
			}
			if result.PageCount != 0 {
				t.Fatalf("page count = %d, want 0", result.PageCount)
			}
			if len(result.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v, want one", result.FailedURLs)
			}
		})
	}
}

func TestFetchNotFound(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.URL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	f := newTestFetcher(t, cfg, transport)
	_, err := f.Fetch(context.Background(), cfg.URL)
	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchRetryRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.URL, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, "<html><head><title>Recovered</title></head><body><p>ok</p></body></html>")
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	f := newTestFetcher(t, cfg, transport)
	frame, err := f.Fetch(context.Background(), cfg.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := frame.Title(); got != "Recovered" {
		t.Fatalf("title = %q, want Recovered", got)
	}
	if frame.Host() != "example.test" {
		t.Fatalf("host = %q", frame.Host())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if got := f.retry.TotalRetries(); got != 1 {
		t.Fatalf("retries = %d, want 1", got)
	}
}

func TestFetcherFollowsPagination(t *testing.T) {
	cfg := testConfig()
	cfg.Parallelism = 4
	cfg.MaxPages = 3
	cfg.FollowSelector = "li.next a"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.URL, htmlResponder(buildListingPage(1, true)))
	transport.RegisterResponder("GET", cfg.URL+"page-2.html", htmlResponder(buildListingPage(2, true)))
	transport.RegisterResponder("GET", cfg.URL+"page-3.html", htmlResponder(buildListingPage(3, true)))
	transport.RegisterResponder("GET", cfg.URL+"page-4.html", htmlResponder(buildListingPage(4, false)))

	f := newTestFetcher(t, cfg, transport)

	var mu sync.Mutex
	var titles []string
	result, err := f.Run(context.Background(), cfg.URL, func(fr *dom.Frame) error {
		mu.Lock()
		defer mu.Unlock()
		titles = append(titles, fr.Title())
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	sort.Strings(titles)
	want := []string{"Listing 1", "Listing 2", "Listing 3"}
	if strings.Join(titles, ",") != strings.Join(want, ",") {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	if result.PageCount != 3 || result.RequestCount != 3 {
		t.Fatalf("pages=%d requests=%d, want 3/3", result.PageCount, result.RequestCount)
	}
	if got := transport.GetCallCountInfo()["GET "+cfg.URL+"page-4.html"]; got != 0 {
		t.Fatalf("page 4 fetched %d times beyond the page budget", got)
	}
}

func TestFetcherVisitorErrorCounted(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.URL, htmlResponder(buildListingPage(1, false)))

	f := newTestFetcher(t, cfg, transport)
	result, err := f.Run(context.Background(), cfg.URL, func(*dom.Frame) error {
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ErrorsByType["visit"] != 1 || result.ErrorCount != 1 {
		t.Fatalf("errors = %v (%d), want one visit error", result.ErrorsByType, result.ErrorCount)
	}
}

func TestFetcherRejectsRelativeURL(t *testing.T) {
	f, err := NewFetcher(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Run(context.Background(), "/relative", nil); err == nil {
		t.Fatal("expected error for url without host")
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(page int, hasNext bool) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "<html><head><title>Listing %d</title></head><body><ul class=\"items\">", page)
	for i := 1; i <= 5; i++ {
		id := (page-1)*5 + i
		fmt.Fprintf(&builder, "<li class=\"item\"><span class=\"name\">Item %d</span><span class=\"price\">&pound;%d.00</span></li>", id, id)
	}
	builder.WriteString("</ul><ul class=\"pager\">")
	// a self link must not be fetched twice
	builder.WriteString("<li class=\"next\"><a href=\"/\">home</a></li>")
	if hasNext {
		fmt.Fprintf(&builder, "<li class=\"next\"><a href=\"page-%d.html\">next</a></li>", page+1)
	}
	builder.WriteString("</ul></body></html>")
	return builder.String()
}
