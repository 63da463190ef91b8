package rankings

import "github.com/prometheus/client_golang/prometheus"

var (
	recomputeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "rankings",
		Name:      "recomputes_total",
		Help:      "Number of best-effort ranking recomputations performed.",
	})

	summaryCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "rankings",
		Name:      "summary_cache_hits_total",
		Help:      "Number of profile summary reads served from cache.",
	})

	summaryCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "rankings",
		Name:      "summary_cache_misses_total",
		Help:      "Number of profile summary reads that required recomputation.",
	})
)

func init() {
	prometheus.MustRegister(recomputeCounter, summaryCacheHits, summaryCacheMisses)
}
