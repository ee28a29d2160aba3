package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Frames per second reported by the encoder",
	}, []string{"job"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "speed",
		Help:      "Encoder processing speed relative to real time",
	}, []string{"job"})

	encoderDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "dropped_frames",
		Help:      "Frames dropped in the current segment",
	}, []string{"job"})

	encoderDuplicated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "duplicate_frames",
		Help:      "Frames duplicated in the current segment",
	}, []string{"job"})

	progressCache   = make(map[string]EncoderProgress)
	progressCacheMu sync.RWMutex
)

// EncoderProgress is the latest progress block reported for a job.
type EncoderProgress struct {
	FPS        float64
	Speed      float64
	Dropped    float64
	Duplicated float64
}

// SetEncoderProgress records p for job in both Prometheus and the cache.
func SetEncoderProgress(job string, p EncoderProgress) {
	encoderFPS.WithLabelValues(job).Set(p.FPS)
	encoderSpeed.WithLabelValues(job).Set(p.Speed)
	encoderDropped.WithLabelValues(job).Set(p.Dropped)
	encoderDuplicated.WithLabelValues(job).Set(p.Duplicated)

	progressCacheMu.Lock()
	progressCache[job] = p
	progressCacheMu.Unlock()
}

// GetEncoderProgress returns the cached progress for job.
func GetEncoderProgress(job string) (EncoderProgress, bool) {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	p, ok := progressCache[job]
	return p, ok
}

// DeleteEncoderProgress drops job's series once its recording ends.
func DeleteEncoderProgress(job string) {
	encoderFPS.DeleteLabelValues(job)
	encoderSpeed.DeleteLabelValues(job)
	encoderDropped.DeleteLabelValues(job)
	encoderDuplicated.DeleteLabelValues(job)

	progressCacheMu.Lock()
	delete(progressCache, job)
	progressCacheMu.Unlock()
}
