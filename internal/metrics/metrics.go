package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	RescueAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rescue_attempts_total",
		Help: "The total number of submission attempts",
	})

	RescueOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescue_outcomes_total",
		Help: "Attempt outcomes by kind",
	}, []string{"outcome"})

	TransfersConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rescue_transfers_confirmed_total",
		Help: "The total number of transfer transactions confirmed with status 1",
	})

	TransfersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rescue_transfers_failed_total",
		Help: "The total number of transfer transactions reverted, dropped or refused",
	})

	EffectiveMaxFeeGwei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rescue_effective_max_fee_gwei",
		Help: "Effective max fee per gas of the most recent plan, in gwei",
	})

	PrivateBroadcastErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescue_private_broadcast_errors_total",
		Help: "Swallowed submission errors by private endpoint",
	}, []string{"endpoint"})
)
