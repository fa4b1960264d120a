// Package metrics exports keenstamp inference and pipeline metrics to Prometheus
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/keenstamp/pkg/inference"
)

const namespace = "keenstamp"

// Message outcomes recorded by ObserveMessage
const (
	OutcomePublished = "published"
	OutcomePassedOn  = "passed_on"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Collector holds every keenstamp metric on its own registry.
// It satisfies inference.Observer so the engine can report into it directly.
type Collector struct {
	registry *prometheus.Registry

	inferred       *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	disabled       *prometheus.CounterVec
	enabledStreams prometheus.Gauge

	messages          *prometheus.CounterVec
	processingLatency prometheus.Histogram
}

// NewCollector creates and registers all metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		inferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timestamps_inferred_total",
				Help:      "Records whose keen.timestamp came from the cursor field",
			},
			[]string{"stream", "unit"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_fallbacks_total",
				Help:      "Records stamped with their ingestion time",
			},
			[]string{"stream", "reason"},
		),

		disabled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_disabled_total",
				Help:      "Streams whose cursor inference was disabled for the rest of the run",
			},
			[]string{"stream", "reason"},
		),

		enabledStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inference_streams_enabled",
				Help:      "Streams still eligible for cursor inference",
			},
		),

		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages handled by the pipeline by outcome",
			},
			[]string{"outcome"},
		),

		processingLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_duration_seconds",
				Help:      "Time taken to annotate and publish one message",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}

	c.registry.MustRegister(
		c.inferred,
		c.fallbacks,
		c.disabled,
		c.enabledStreams,
		c.messages,
		c.processingLatency,
	)
	return c
}

// Registry returns the registry the metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Inferred implements inference.Observer
func (c *Collector) Inferred(stream string, unit inference.Unit) {
	c.inferred.WithLabelValues(stream, string(unit)).Inc()
}

// FellBack implements inference.Observer
func (c *Collector) FellBack(stream string, err error) {
	c.fallbacks.WithLabelValues(stream, reason(err)).Inc()
}

// Disabled implements inference.Observer
func (c *Collector) Disabled(stream string, _ []string, err error) {
	c.disabled.WithLabelValues(stream, reason(err)).Inc()
	c.enabledStreams.Dec()
}

// SetEnabledStreams records how many streams start out eligible for inference
func (c *Collector) SetEnabledStreams(n int) {
	c.enabledStreams.Set(float64(n))
}

// ObserveMessage records the outcome and latency of one pipeline message
func (c *Collector) ObserveMessage(outcome string, took time.Duration) {
	c.messages.WithLabelValues(outcome).Inc()
	c.processingLatency.Observe(took.Seconds())
}

// reason keeps label values to a fixed set
func reason(err error) string {
	switch {
	case err == nil:
		return "no_cursor"
	case errors.Is(err, inference.ErrPathMissing):
		return "path_missing"
	case errors.Is(err, inference.ErrOrdinalValue):
		return "ordinal"
	case errors.Is(err, inference.ErrUnparseableValue):
		return "unparseable"
	default:
		return "other"
	}
}
