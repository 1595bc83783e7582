package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeBilledCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_billing_active_calls",
		Help: "Number of calls currently being charged",
	})

	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_billing_ticks_total",
		Help: "Total number of successfully charged billing ticks",
	})

	insufficientFundsEnds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_billing_insufficient_funds_total",
		Help: "Total number of calls ended because the caller ran out of funds",
	})

	ledgerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_billing_ledger_errors_total",
		Help: "Total number of ticks aborted by a ledger write failure",
	})

	progressWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_billing_progress_write_errors_total",
		Help: "Total number of failed call progress writes (retried next tick)",
	})
)
