package wafproxy

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the default Prometheus registry (which judge's
// counters register themselves against) on GET /metrics.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
