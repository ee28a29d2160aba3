package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recording",
		Name:      "active",
		Help:      "1 while a recording job holds the encoder",
	})

	recordingSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recording",
		Name:      "segments_total",
		Help:      "Closed segments by reason",
	}, []string{"reason"})

	recordingRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recording",
		Name:      "restarts_total",
		Help:      "Replacement segments launched after a failure, by cause",
	}, []string{"cause"})

	recordingSegmentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recording",
		Name:      "segment_bytes",
		Help:      "Size of the segment currently being written",
	})

	recordingDiskFree = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recording",
		Name:      "disk_free_bytes",
		Help:      "Free space on the recording volume at the last check",
	})
)

func SetRecordingActive(active bool) {
	if active {
		recordingActive.Set(1)
	} else {
		recordingActive.Set(0)
	}
}

func IncSegmentClosed(reason string) {
	recordingSegments.WithLabelValues(reason).Inc()
}

func IncRecordingRestart(cause string) {
	recordingRestarts.WithLabelValues(cause).Inc()
}

func SetSegmentBytes(n int64) {
	recordingSegmentBytes.Set(float64(n))
}

func SetDiskFree(n uint64) {
	recordingDiskFree.Set(float64(n))
}
