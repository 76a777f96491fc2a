// Package metrics exposes Prometheus collectors for fetches and refreshes.
package metrics

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/torcheck/internal/scheduler"
	"github.com/nao1215/torcheck/internal/source"
)

const namespace = "torcheck"

// Outcome label values for fetches. Failures use source.Kind.String().
const outcomeSuccess = "success"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	refreshTotal  *prometheus.CounterVec
	state         *prometheus.GaugeVec
	routed        prometheus.Gauge
	exitCount     prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// Option configures Metrics.
type Option func(*options)

type options struct {
	runtime bool
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(o *options) {
		o.runtime = true
	}
}

// New creates and registers all collectors.
func New(opts ...Option) *Metrics {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Remote fetches by endpoint host and outcome.",
		}, []string{"endpoint", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Remote fetch latency by endpoint host.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Published refreshes by resulting state.",
		}, []string{"state"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current check state, 0 otherwise.",
		}, []string{"state"}),
		routed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routed_via_tor",
			Help:      "1 when the Tor-observed address is a known exit relay.",
		}),
		exitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_relays",
			Help:      "Number of addresses in the cached exit list.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
	}

	m.registry.MustRegister(
		m.fetchTotal,
		m.fetchDuration,
		m.refreshTotal,
		m.state,
		m.routed,
		m.exitCount,
		m.lastSuccess,
	)
	if o.runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe implements scheduler.Observer.
func (m *Metrics) Observe(_ context.Context, _, cur scheduler.Status) error {
	m.refreshTotal.WithLabelValues(cur.State.String()).Inc()
	for _, s := range []scheduler.State{
		scheduler.StateAvailable,
		scheduler.StateUnavailable,
		scheduler.StateReauthRequired,
	} {
		v := 0.0
		if s == cur.State {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}

	if cur.Result.RoutedViaOverlay {
		m.routed.Set(1)
	} else {
		m.routed.Set(0)
	}
	m.exitCount.Set(float64(len(cur.Result.ExitIdentifiers)))
	if cur.OK() {
		m.lastSuccess.Set(float64(cur.CheckedAt.Unix()))
	}
	return nil
}

// InstrumentFetcher wraps next so every fetch is counted and timed.
func (m *Metrics) InstrumentFetcher(next source.Fetcher) source.Fetcher {
	return &instrumentedFetcher{next: next, metrics: m}
}

type instrumentedFetcher struct {
	next    source.Fetcher
	metrics *Metrics
}

func (f *instrumentedFetcher) Fetch(ctx context.Context, session source.Session, rawURL string) (string, error) {
	endpoint := endpointLabel(rawURL)
	start := time.Now()
	body, err := f.next.Fetch(ctx, session, rawURL)
	f.metrics.fetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := outcomeSuccess
	if err != nil {
		outcome = source.KindOf(err).String()
	}
	f.metrics.fetchTotal.WithLabelValues(endpoint, outcome).Inc()
	return body, err
}

// endpointLabel keeps label cardinality bounded by dropping path and query.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Host
}
