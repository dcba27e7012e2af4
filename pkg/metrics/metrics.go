// Package metrics exposes Prometheus instrumentation for the transaction
// engine and the polling scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	TransactionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsmb_bus_transactions_total",
		Help: "The total number of bus transactions by outcome",
	}, []string{"connection", "status"})

	BytesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsmb_bus_bytes_total",
		Help: "The total number of bytes on the wire by direction",
	}, []string{"connection", "direction"})

	DroppedTickCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsmb_poll_dropped_ticks_total",
		Help: "The total number of poll ticks dropped because the previous transaction was still in flight",
	}, []string{"group"})

	// Gauges
	ActivePollJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsmb_poll_active_jobs",
		Help: "The number of currently scheduled poll jobs",
	})
)

// Direction constants
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// Transaction status constants
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusCRC       = "crc_invalid"
	StatusException = "exception"
	StatusCancelled = "cancelled"
	StatusTransport = "transport_error"
)

// IncTransaction increments the transaction counter.
func IncTransaction(connection, status string) {
	TransactionCount.WithLabelValues(connection, status).Inc()
}

// AddBytes adds to the wire byte counter.
func AddBytes(connection, direction string, n int) {
	BytesCount.WithLabelValues(connection, direction).Add(float64(n))
}

// IncDroppedTick increments the dropped poll tick counter.
func IncDroppedTick(group string) {
	DroppedTickCount.WithLabelValues(group).Inc()
}

// SetActivePollJobs sets the number of scheduled poll jobs.
func SetActivePollJobs(count int) {
	ActivePollJobs.Set(float64(count))
}
