package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "reconcile",
		Name:      "skipped_total",
		Help:      "Refreshes skipped because one of the same kind was in flight.",
	}, []string{"kind"})
	refreshErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "reconcile",
		Name:      "errors_total",
		Help:      "Failed REST fetches during reconciliation.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(refreshSkipped, refreshErrors)
}
