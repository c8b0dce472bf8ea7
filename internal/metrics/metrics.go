// Package metrics exposes Prometheus metrics for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geobuffer"

// BuildInfo labels the build info gauge.
type BuildInfo struct {
	Version string
	Commit  string
}

// Provider owns a registry with the process collectors and the service's
// own metrics.
type Provider struct {
	reg *prometheus.Registry

	analyses        *prometheus.CounterVec
	analysisSeconds *prometheus.HistogramVec
	pointsEvaluated prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpSeconds     *prometheus.HistogramVec
	circuitState    prometheus.Gauge
}

// New builds a provider on a fresh registry.
func New(build BuildInfo) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build info for this binary (value is always 1).",
	}, []string{"version", "commit"})
	if build.Version == "" {
		build.Version = "dev"
	}
	info.WithLabelValues(build.Version, build.Commit).Set(1)

	p := &Provider{
		reg: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Buffer analyses by outcome.",
		}, []string{"outcome"}),
		analysisSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of buffer analyses in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"outcome"}),
		pointsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_evaluated_total",
			Help:      "Points tested against line buffers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route", "status"}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_circuit_state",
			Help:      "Database circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}
	reg.MustRegister(info, p.analyses, p.analysisSeconds, p.pointsEvaluated, p.httpRequests, p.httpSeconds, p.circuitState)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Register adds collectors to the provider's registry.
func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

// AnalysisFinished records one analysis.
func (p *Provider) AnalysisFinished(outcome string, elapsed time.Duration, pointsEvaluated int) {
	p.analyses.WithLabelValues(outcome).Inc()
	p.analysisSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	p.pointsEvaluated.Add(float64(pointsEvaluated))
}

// ObserveHTTP records one HTTP request under its route pattern.
func (p *Provider) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	st := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, st).Inc()
	p.httpSeconds.WithLabelValues(method, route, st).Observe(elapsed.Seconds())
}

// SetCircuitState publishes the database breaker state.
func (p *Provider) SetCircuitState(state int) {
	p.circuitState.Set(float64(state))
}
