package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_ws_events_in_total",
			Help: "Total number of events received on the realtime channel.",
		},
		[]string{"event"},
	)
	eventsOutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_ws_events_out_total",
			Help: "Total number of events sent on the realtime channel.",
		},
		[]string{"event"},
	)
	connectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_ws_connects_total",
			Help: "Total number of realtime connections established.",
		},
	)
	disconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_ws_disconnects_total",
			Help: "Total number of realtime connections dropped or closed.",
		},
	)
	messagesReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_messages_reconciled_total",
			Help: "Total number of optimistic messages confirmed by the server.",
		},
	)
	messagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_messages_failed_total",
			Help: "Total number of messages that exhausted their send attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsInTotal,
		eventsOutTotal,
		connectsTotal,
		disconnectsTotal,
		messagesReconciled,
		messagesFailed,
	)
}

func IncEventIn(event string) {
	eventsInTotal.WithLabelValues(event).Inc()
}

func IncEventOut(event string) {
	eventsOutTotal.WithLabelValues(event).Inc()
}

func IncConnects() {
	connectsTotal.Inc()
}

func IncDisconnects() {
	disconnectsTotal.Inc()
}

func IncReconciled() {
	messagesReconciled.Inc()
}

func IncFailed() {
	messagesFailed.Inc()
}
