package metrics

import (
	"time"

	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/malbeclabs/gameledger/engine/pkg/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameledger_engine_operations_total",
			Help: "Total number of engine entry point executions",
		},
		[]string{"module", "op", "status"}, // status: "success" or the fault kind
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gameledger_engine_operation_duration_seconds",
			Help:    "Duration of engine entry point executions, including host retries",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"module", "op"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameledger_engine_events_total",
			Help: "Total number of events in committed transactions",
		},
		[]string{"module", "name"},
	)

	PublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gameledger_engine_publish_errors_total",
			Help: "Total number of failed event publications",
		},
	)
)

// RecordOperation records one entry point execution.
func RecordOperation(module, op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = faults.KindOf(err).String()
	}
	OperationsTotal.WithLabelValues(module, op, status).Inc()
	OperationDuration.WithLabelValues(module, op).Observe(duration.Seconds())
}

// RecordEvents counts the events of a committed transaction.
func RecordEvents(events []host.Event) {
	for _, ev := range events {
		EventsTotal.WithLabelValues(ev.Module, ev.Name).Inc()
	}
}
