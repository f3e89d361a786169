// Package metrics defines the Prometheus collectors of the form endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeDelivered        = "delivered"
	OutcomeValidationFailed = "validation_failed"
	OutcomeDeliveryFailed   = "delivery_failed"
	OutcomeTooLarge         = "too_large"
	OutcomeMalformed        = "malformed"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formmail_submissions_total",
			Help: "Total number of form submissions by outcome",
		}, []string{"outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formmail_delivery_duration_seconds",
			Help:    "Time spent handing a message to the delivery backend",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),
	}
	reg.MustRegister(m.Submissions, m.DeliveryDuration)
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
// plus the form collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// ObserveSubmission counts one submission with the given outcome.
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// ObserveDelivery records how long one delivery attempt took.
func (m *Metrics) ObserveDelivery(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
