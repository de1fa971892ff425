package judge

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// prometheusCollectors holds the Judge's seven monotonic counters, each
// registered against the default registry so the proxy can expose them on
// GET /metrics when observability.metrics_enabled is set.
type prometheusCollectors struct {
	totalRequests   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	llmTimeouts     prometheus.Counter
	llmErrors       prometheus.Counter
	failOpenCount   prometheus.Counter
	failClosedCount prometheus.Counter
}

func newPrometheusCollectors() *prometheusCollectors {
	c := &prometheusCollectors{
		totalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_total_requests",
			Help: "Total requests evaluated by the Judge.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_cache_hits_total",
			Help: "Verdict cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_cache_misses_total",
			Help: "Verdict cache misses.",
		}),
		llmTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_llm_timeouts_total",
			Help: "LLM calls that exceeded the judge deadline.",
		}),
		llmErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_llm_errors_total",
			Help: "LLM calls that returned a non-timeout error.",
		}),
		failOpenCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_fail_open_total",
			Help: "Requests allowed due to fail-open on LLM failure.",
		}),
		failClosedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_judge_fail_closed_total",
			Help: "Requests blocked due to fail-closed on LLM failure.",
		}),
	}

	// MustRegister panics on duplicate registration; a second Judge in the
	// same process (parallel tests) would collide, so register best-effort.
	// MetricsSnapshot reads the local collectors directly either way.
	collectors := []prometheus.Collector{
		c.totalRequests, c.cacheHits, c.cacheMisses,
		c.llmTimeouts, c.llmErrors, c.failOpenCount, c.failClosedCount,
	}
	for _, col := range collectors {
		_ = prometheus.Register(col)
	}

	return c
}

// counterValue reads a prometheus.Counter's current value without requiring
// the testutil package as a runtime dependency.
func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
