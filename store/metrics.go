package store

import "github.com/prometheus/client_golang/prometheus"

var (
	writeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Failed writes to the persistent store.",
	})
	changesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "store",
		Name:      "changes_dropped_total",
		Help:      "Change notifications dropped for slow subscribers.",
	})
)

func init() {
	prometheus.MustRegister(writeErrors, changesDropped)
}
