package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcileChecksTotal,
		reconcileDowngradesTotal,
		reconcileRunsTotal,
	)
}

var (
	reconcileChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconcile_checks_total",
			Help: "Profiles checked against the payment provider, by result.",
		},
		[]string{"result"}, // 'ok', 'error'
	)

	reconcileDowngradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_reconcile_downgrades_total",
			Help: "Profiles downgraded to free because the provider subscription ended.",
		},
	)

	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconcile_runs_total",
			Help: "Reconciler passes by result.",
		},
		[]string{"result"},
	)
)

func IncReconcileCheck(err error) {
	reconcileChecksTotal.WithLabelValues(resultLabel(err)).Inc()
}

func AddReconcileDowngrades(n int) {
	reconcileDowngradesTotal.Add(float64(n))
}

func IncReconcileRun(err error) {
	reconcileRunsTotal.WithLabelValues(resultLabel(err)).Inc()
}
