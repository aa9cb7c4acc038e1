// Package metrics registers the engine's Prometheus instruments. All engine
// components accept a *Metrics and treat nil as "metrics disabled".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the agent engine.
type Metrics struct {
	EventsProcessed  prometheus.Counter
	EventsSuppressed prometheus.Counter
	EventsRejected   prometheus.Counter
	EventsDropped    prometheus.Counter
	AlertsSent       *prometheus.CounterVec
	AlertFailures    prometheus.Counter
	PersistFailures  prometheus.Counter
	ServiceFailures  *prometheus.CounterVec
	ServiceRestarts  prometheus.Counter
}

// New creates and registers all engine metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_events_processed_total",
			Help: "Events accepted by the aggregator filtering policy",
		}),
		EventsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_events_suppressed_total",
			Help: "Events suppressed as duplicates within the aggregation window",
		}),
		EventsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_events_rejected_total",
			Help: "Malformed events rejected at the aggregator boundary",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_events_dropped_total",
			Help: "Events dropped on the intake channel under backpressure",
		}),
		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deskwatch_alerts_sent_total",
			Help: "Alerts delivered, by event severity",
		}, []string{"severity"}),
		AlertFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_alert_failures_total",
			Help: "Alert delivery attempts that returned an error",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_persist_failures_total",
			Help: "Event persistence attempts that returned an error",
		}),
		ServiceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deskwatch_service_failures_total",
			Help: "Sensor service start/stop failures, by service",
		}, []string{"service"}),
		ServiceRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deskwatch_service_restarts_total",
			Help: "Best-effort sensor restarts issued by the engine",
		}),
	}
}
