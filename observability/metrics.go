package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics aggregates the counters and histograms recorded by the vault
// HTTP surface and the operation engine.
type VaultMetrics struct {
	Requests    *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Deposits    prometheus.Counter
	Withdrawals prometheus.Counter
	Orders      prometheus.Counter
	PayoutUnits prometheus.Histogram
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Metrics returns the lazily-initialised vault metrics registry.
func Metrics() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "requests_total",
				Help:      "Total vault operation requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "errors_total",
				Help:      "Total vault operation failures segmented by operation and error class.",
			}, []string{"operation", "error"}),
			Deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "deposits_total",
				Help:      "Total successful deposits.",
			}),
			Withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "withdrawals_total",
				Help:      "Total terminal withdrawals.",
			}),
			Orders: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "orders_total",
				Help:      "Total recorded orders.",
			}),
			PayoutUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "merchantvault",
				Subsystem: "ops",
				Name:      "payout_units",
				Help:      "Withdrawal payout sizes in base units.",
				Buckets:   prometheus.ExponentialBuckets(1e6, 10, 8),
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.Requests,
			vaultRegistry.Errors,
			vaultRegistry.Deposits,
			vaultRegistry.Withdrawals,
			vaultRegistry.Orders,
			vaultRegistry.PayoutUnits,
		)
	})
	return vaultRegistry
}

// RecordOutcome tracks a completed operation and, on failure, its error class.
func (m *VaultMetrics) RecordOutcome(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.Errors.WithLabelValues(operation, err.Error()).Inc()
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
}
