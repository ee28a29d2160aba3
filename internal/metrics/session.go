package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "state",
		Help:      "1 for the stream session's current state, 0 for the others",
	}, []string{"state"})

	sessionReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts by outcome",
	}, []string{"outcome"})

	sessionFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "frames_total",
		Help:      "Frames read from the capture handle",
	})

	sessionReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "read_failures_total",
		Help:      "Failed or timed out frame reads",
	})
)

// SetSessionState marks state as current and clears the previous one.
func SetSessionState(prev, state string) {
	if prev != "" && prev != state {
		sessionState.WithLabelValues(prev).Set(0)
	}
	sessionState.WithLabelValues(state).Set(1)
}

func IncSessionReconnect(outcome string) {
	sessionReconnects.WithLabelValues(outcome).Inc()
}

func IncSessionFrames() {
	sessionFrames.Inc()
}

func IncSessionReadFailures() {
	sessionReadFailures.Inc()
}
