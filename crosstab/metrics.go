package crosstab

import "github.com/prometheus/client_golang/prometheus"

var events = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "minichat",
	Subsystem: "crosstab",
	Name:      "events_total",
	Help:      "Cross instance sync events by path and kind.",
}, []string{"path", "kind"})

func init() {
	prometheus.MustRegister(events)
}
