package chatstore

import "github.com/prometheus/client_golang/prometheus"

var (
	merges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "chatstore",
		Name:      "list_changes_total",
		Help:      "Conversation list merges that changed state.",
	})
	staleHistory = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "chatstore",
		Name:      "stale_history_total",
		Help:      "History responses discarded because the conversation was switched.",
	})
	malformedItems = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "chatstore",
		Name:      "malformed_history_items_total",
		Help:      "History items dropped because they could not be decoded.",
	})
)

func init() {
	prometheus.MustRegister(merges, staleHistory, malformedItems)
}
