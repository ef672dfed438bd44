// Package metrics records assignment outcomes for observability.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder observes assignment attempts.
type Recorder interface {
	ObserveAssignment(kind string, d time.Duration)
	SetEligibleResponders(n int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) ObserveAssignment(string, time.Duration) {}
func (NopRecorder) SetEligibleResponders(int)               {}

// PromRecorder records assignment metrics in Prometheus.
type PromRecorder struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	eligible prometheus.Gauge
}

// NewPromRecorder registers the metrics on the default Prometheus registerer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers metrics on reg. A nil registerer
// defaults to the global one; collectors already registered are reused.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relief_assignment_outcomes_total",
		Help: "Assignment attempts by outcome",
	}, []string{"kind"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relief_assignment_duration_seconds",
		Help:    "Time spent in one assignment attempt, lock wait included",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	eligible := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relief_eligible_responders",
		Help: "Eligible responders seen by the last assignment attempt",
	})

	if err := reg.Register(outcomes); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		outcomes = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(latency); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		latency = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(eligible); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		eligible = are.ExistingCollector.(prometheus.Gauge)
	}
	return &PromRecorder{outcomes: outcomes, latency: latency, eligible: eligible}, nil
}

// ObserveAssignment counts one attempt and its duration.
func (r *PromRecorder) ObserveAssignment(kind string, d time.Duration) {
	r.outcomes.WithLabelValues(kind).Inc()
	r.latency.WithLabelValues(kind).Observe(d.Seconds())
}

// SetEligibleResponders sets the eligible responder gauge.
func (r *PromRecorder) SetEligibleResponders(n int) {
	r.eligible.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
