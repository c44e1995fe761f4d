package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "connected",
		Help:      "Number of live STOMP sessions.",
	})
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "reconnects_total",
		Help:      "Connection attempts after a failure or a lost connection.",
	})
	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "dropped_frames_total",
		Help:      "Undecodable STOMP frames.",
	})
	droppedPayloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "dropped_payloads_total",
		Help:      "Malformed message payloads.",
	})
	selfEchoes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "self_echoes_total",
		Help:      "Pushed messages dropped because the local user sent them.",
	})
)

func init() {
	prometheus.MustRegister(connectedGauge, reconnects, droppedFrames, droppedPayloads, selfEchoes)
}
