// Package metrics exposes Prometheus metrics for the stream session, the
// recorder and the encoder subprocess.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ptzrec"

// Handler serves every promauto-registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
