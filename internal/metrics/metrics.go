// Package metrics exposes gateway counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrumentation surface used by the gateway services.
type Metrics interface {
	RecordRequest(endpoint string, success bool, latency time.Duration)
	RecordCacheLookup(hit bool)
	RecordUpload(success bool, latency time.Duration)
	RecordQuotaRejection(reason string)
	RecordLogWriteFailure(stage string)
	HTTPHandler() http.Handler
}

// Prometheus implements Metrics on a private registry.
type Prometheus struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	uploadLatency   prometheus.Histogram
	rejections      *prometheus.CounterVec
	logWriteFailure *prometheus.CounterVec
}

// NewPrometheus registers the gateway collectors under namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "media_gateway"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Prometheus{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Metered requests by endpoint and outcome.",
		}, []string{"endpoint", "success"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Metered request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Blob cache lookups by result.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_uploads_total",
			Help:      "Blob channel uploads by outcome.",
		}, []string{"success"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_upload_duration_seconds",
			Help:      "Blob channel upload latency.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_requests_total",
			Help:      "Requests refused before serving, by reason.",
		}, []string{"reason"}),
		logWriteFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_log_write_failures_total",
			Help:      "Usage log entries that missed the normal write path, by stage.",
		}, []string{"stage"}),
	}

	registry.MustRegister(
		p.requests,
		p.requestLatency,
		p.cacheLookups,
		p.uploads,
		p.uploadLatency,
		p.rejections,
		p.logWriteFailure,
	)
	return p
}

func (p *Prometheus) RecordRequest(endpoint string, success bool, latency time.Duration) {
	p.requests.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
	p.requestLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

func (p *Prometheus) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordUpload(success bool, latency time.Duration) {
	p.uploads.WithLabelValues(strconv.FormatBool(success)).Inc()
	p.uploadLatency.Observe(latency.Seconds())
}

func (p *Prometheus) RecordQuotaRejection(reason string) {
	p.rejections.WithLabelValues(reason).Inc()
}

func (p *Prometheus) RecordLogWriteFailure(stage string) {
	p.logWriteFailure.WithLabelValues(stage).Inc()
}

// Registry is exposed for tests and for callers adding their own collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards every observation.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) RecordRequest(string, bool, time.Duration) {}
func (Noop) RecordCacheLookup(bool)                    {}
func (Noop) RecordUpload(bool, time.Duration)          {}
func (Noop) RecordQuotaRejection(string)               {}
func (Noop) RecordLogWriteFailure(string)              {}

func (Noop) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics disabled"))
	})
}
