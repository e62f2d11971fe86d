package metrics

import (
	"errors"
	"time"

	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_operations_total",
			Help: "Total number of distribution operations by outcome",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_distributor_operation_duration_seconds",
			Help:    "Duration of distribution operations including collaborator calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_payments_total",
			Help: "Total number of committed payments",
		},
		[]string{"kind"},
	)

	PaymentAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_payment_amount_total",
			Help: "Total base units paid out of distribution vaults",
		},
		[]string{"kind"},
	)

	FeesCollectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_fees_collected_total",
			Help: "Total base units paid to the fee wallet",
		},
	)

	BitmapExpansionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_bitmap_expansions_total",
			Help: "Total number of bitmap expansion steps",
		},
	)

	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_sink_failures_total",
			Help: "Total number of failed post-commit deliveries",
		},
		[]string{"sink"},
	)

	PendingTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_pending_transfers_total",
			Help: "Total number of committed operations whose token transfer was submitted but not confirmed",
		},
		[]string{"operation"},
	)

	UnreconciledCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_distributor_unreconciled_commits_total",
			Help: "Total number of operations whose token movement succeeded but whose state failed to persist",
		},
	)
)

// RecordOperation records the outcome of one operation. Rule violations are labelled with
// their kind; anything else is an internal error.
func RecordOperation(operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var kind tree.ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "error"
}

func RecordPayment(kind string, amount uint64) {
	PaymentsTotal.WithLabelValues(kind).Inc()
	PaymentAmountTotal.WithLabelValues(kind).Add(float64(amount))
}
