package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by every counter.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics contains the application Prometheus counters. A nil *Metrics is
// valid and records nothing, which keeps unit tests free of registries.
type Metrics struct {
	registry *prometheus.Registry

	AuthEvents       *prometheus.CounterVec
	LedgerOperations *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	Bookings         *prometheus.CounterVec
}

// New creates a dedicated registry with Go and process collectors plus the
// application counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_auth_events_total",
				Help: "Total number of credential flow outcomes by event and result",
			},
			[]string{"event", "result"},
		),
		LedgerOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_ledger_operations_total",
				Help: "Total number of lesson balance mutations by operation and result",
			},
			[]string{"operation", "result"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_payment_webhook_events_total",
				Help: "Total number of payment webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		Bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_bookings_total",
				Help: "Total number of booking attempts by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(m.AuthEvents, m.LedgerOperations, m.WebhookEvents, m.Bookings)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) RecordAuthEvent(event, result string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) RecordLedgerOperation(operation, result string) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBooking(result string) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(result).Inc()
}
