package inspector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the inspector.
type Metrics struct {
	Registry          *prometheus.Registry
	MessagesTotal     *prometheus.CounterVec
	PicksTotal        *prometheus.CounterVec
	BuildDuration     prometheus.Histogram
	SelectorFailures  prometheus.Counter
	PagesTotal        *prometheus.CounterVec
	AnalysesTotal     prometheus.Counter
	AnalysedLeavesSum prometheus.Counter
}

// NewMetrics constructs and registers all metrics on registry. A nil
// registry gets a dedicated one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	messages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awtomato_messages_total",
			Help: "Envelopes handled, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	picks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awtomato_picks_total",
			Help: "Pick requests by outcome.",
		},
		[]string{"outcome"},
	)
	buildDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "awtomato_selector_build_duration_seconds",
			Help:    "Time spent synthesising one selector.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
	failures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "awtomato_selector_failures_total",
			Help: "Stored selectors that failed to evaluate during a match pass.",
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awtomato_current_page_total",
			Help: "Current page resolutions by result.",
		},
		[]string{"result"},
	)
	analyses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "awtomato_analyses_total",
			Help: "Data type inference runs.",
		},
	)
	leaves := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "awtomato_analysed_leaves_total",
			Help: "Typed leaves left after inference, summed over runs.",
		},
	)

	registry.MustRegister(messages, picks, buildDuration, failures, pages, analyses, leaves)

	return &Metrics{
		Registry:          registry,
		MessagesTotal:     messages,
		PicksTotal:        picks,
		BuildDuration:     buildDuration,
		SelectorFailures:  failures,
		PagesTotal:        pages,
		AnalysesTotal:     analyses,
		AnalysedLeavesSum: leaves,
	}
}

// IncMessage counts one handled envelope.
func (m *Metrics) IncMessage(action, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(action, outcome).Inc()
}

// ObservePick records a pick and how long its selector took.
func (m *Metrics) ObservePick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PicksTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.BuildDuration.Observe(d.Seconds())
	}
}

// IncSelectorFailure counts a stored selector that failed.
func (m *Metrics) IncSelectorFailure() {
	if m == nil {
		return
	}
	m.SelectorFailures.Inc()
}

// IncPage counts a current page resolution.
func (m *Metrics) IncPage(result string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(result).Inc()
}

// ObserveAnalysis counts an inference run.
func (m *Metrics) ObserveAnalysis(leaves int) {
	if m == nil {
		return
	}
	m.AnalysesTotal.Inc()
	m.AnalysedLeavesSum.Add(float64(leaves))
}
