// Package metrics holds the Prometheus collectors for the resolver, the
// redaction hook and the resolve-batch endpoint. All methods are safe on a
// nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcvault"

// Resolver outcomes.
const (
	OutcomeNoPlaceholders = "no_placeholders"
	OutcomeResolved       = "resolved"
	OutcomeBlocked        = "blocked"
)

// Metrics is the set of collectors registered by New.
type Metrics struct {
	ResolverCalls         *prometheus.CounterVec
	CacheLookups          *prometheus.CounterVec
	BatchDurationSeconds  *prometheus.HistogramVec
	Redactions            *prometheus.CounterVec
	ServerResolveRequests *prometheus.CounterVec
	ServerResolvedKeys    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ResolverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "calls_total",
			Help:      "Tool calls seen by the placeholder resolver, by outcome and error code.",
		}, []string{"outcome", "code"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_lookups_total",
			Help:      "Resolution cache lookups by result.",
		}, []string{"result"}),
		BatchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "batch_duration_seconds",
			Help:      "Duration of resolve-batch round trips.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"status"}),
		Redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redact",
			Name:      "results_total",
			Help:      "Tool results passed through redaction, by result.",
		}, []string{"result"}),
		ServerResolveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "resolve_requests_total",
			Help:      "resolve-batch requests served, by HTTP status.",
		}, []string{"status"}),
		ServerResolvedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "resolved_keys_total",
			Help:      "Individual (handle, field) values returned by resolve-batch.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ResolverCalls, m.CacheLookups, m.BatchDurationSeconds,
		m.Redactions, m.ServerResolveRequests, m.ServerResolvedKeys,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors alongside the vault metrics.
func NewRegistry() (*prometheus.Registry, *Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ResolverCall records one resolver invocation. code is empty on success.
func (m *Metrics) ResolverCall(outcome, code string) {
	if m == nil {
		return
	}
	m.ResolverCalls.WithLabelValues(outcome, code).Inc()
}

// CacheLookup records cache hits and misses for one invocation.
func (m *Metrics) CacheLookup(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.CacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// BatchDone records a resolve-batch round trip.
func (m *Metrics) BatchDone(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// Redaction records one redaction pass: applied, skipped or degraded.
func (m *Metrics) Redaction(result string) {
	if m == nil {
		return
	}
	m.Redactions.WithLabelValues(result).Inc()
}

// ServerResolve records one served resolve-batch request.
func (m *Metrics) ServerResolve(status string, keys int) {
	if m == nil {
		return
	}
	m.ServerResolveRequests.WithLabelValues(status).Inc()
	if keys > 0 {
		m.ServerResolvedKeys.Add(float64(keys))
	}
}
