// Package metrics exposes oracle operation metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-oracle/core"
)

// Labels is the fixed label set of every oracle metric. Tags outside it are
// dropped and missing ones are exported empty.
var Labels = core.MetricTagKeys

var durationBuckets = prometheus.ExponentialBuckets(5, 2, 12)

// PrometheusRecorder implements core.MetricsRecorder. Collectors are created
// on first use, one per metric name.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusRecorder records into registry, or a fresh registry with the
// Go and process collectors when registry is nil.
func NewPrometheusRecorder(registry *prometheus.Registry) *PrometheusRecorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &PrometheusRecorder{
		registry:   registry,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value <= 0 {
		return
	}
	counter := r.counter(MetricName(name))
	if counter == nil {
		return
	}
	counter.WithLabelValues(labelValues(tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	histogram := r.histogram(MetricName(name))
	if histogram == nil {
		return
	}
	histogram.WithLabelValues(labelValues(tags)...).Observe(value)
}

func (r *PrometheusRecorder) counter(name string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "Oracle operation counter " + name + ".",
	}, Labels)
	if err := r.registry.Register(counter); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter, _ = existing.ExistingCollector.(*prometheus.CounterVec)
		} else {
			counter = nil
		}
	}
	r.counters[name] = counter
	return counter
}

func (r *PrometheusRecorder) histogram(name string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Oracle operation histogram " + name + ".",
		Buckets: durationBuckets,
	}, Labels)
	if err := r.registry.Register(histogram); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram, _ = existing.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			histogram = nil
		}
	}
	r.histograms[name] = histogram
	return histogram
}

// MetricName turns a dotted observer name into a Prometheus metric name.
func MetricName(name string) string {
	var b strings.Builder
	for i, ch := range strings.TrimSpace(name) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_', ch == ':':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "oracle_unnamed"
	}
	return b.String()
}

func labelValues(tags map[string]string) []string {
	values := make([]string, len(Labels))
	for i, label := range Labels {
		values[i] = tags[label]
	}
	return values
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
