package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/awtomato/config"
)

const usage = `usage: awtomato [flags] <mode>

modes:
  pick     synthesise a selector for the element matched by -target or -x/-y
  match    list stored pages of the host and the elements their selections match
  extract  export rows for every stored selection that matches the page(s)
  analyze  run data-type inference under -target (default body)
  serve    answer JSONL message envelopes on stdin/stdout

flags:
`

type options struct {
	configPath string
	target     string
	rejects    string
	x, y       int
	snapshot   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.target, "target", "", "CSS selector of the element to pick or analyse")
	flag.StringVar(&opts.rejects, "reject", "", "Comma separated selectors of elements the pick must not match")
	flag.IntVar(&opts.x, "x", -1, "Document x coordinate of the element to pick")
	flag.IntVar(&opts.y, "y", -1, "Document y coordinate of the element to pick")
	flag.BoolVar(&opts.snapshot, "snapshot", false, "Store the HTML of matched pages during extract")

	url := flag.String("url", "", "Page URL to load")
	file := flag.String("file", "", "Local HTML file to load instead of a URL")
	render := flag.String("render", "", "Render mode: http or browser")
	follow := flag.String("follow", "", "CSS selector of pagination links to follow during extract")
	maxPages := flag.Int("pages", 0, "Maximum pages to load during extract")
	parallelism := flag.Int("parallel", 0, "Number of concurrent requests")
	maxRetries := flag.Int("max-retries", -1, "Maximum retry attempts per URL")
	timeout := flag.Duration("timeout", 0, "Request and render timeout")
	dbPath := flag.String("db", "", "SQLite database of pages and selections")
	outputFile := flag.String("output", "", "Output file path")
	outputFormat := flag.String("format", "", "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	mode := flag.Arg(0)
	if mode == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.URL = *url
		case "file":
			cfg.File = *file
		case "render":
			cfg.Render = strings.ToLower(*render)
		case "follow":
			cfg.FollowSelector = *follow
		case "pages":
			cfg.MaxPages = *maxPages
		case "parallel":
			cfg.Parallelism = *parallelism
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "timeout":
			cfg.Timeout = *timeout
		case "db":
			cfg.DBPath = *dbPath
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	// serve owns stdout for the protocol
	logOut := os.Stdout
	if mode == "serve" {
		logOut = os.Stderr
	}
	logger, level := newLogger(logOut, cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metricsServer := startMetricsServer(cfg.MetricsAddr, registry)

	app, err := newApp(cfg, opts, registry)
	if err != nil {
		slog.Error("initialising", slog.Any("error", err))
		os.Exit(1)
	}

	err = app.run(ctx, mode)
	if cerr := app.Close(); cerr != nil {
		slog.Error("shutdown", slog.Any("error", cerr))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if err != nil {
		slog.Error(mode+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func startMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func newLogger(out *os.File, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(out) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
