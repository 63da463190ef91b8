package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	activitiesSynced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "syncer",
		Name:      "activities_synced_total",
		Help:      "Number of activities fetched and stored.",
	})

	tokensRefreshed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "syncer",
		Name:      "tokens_refreshed_total",
		Help:      "Number of access token refreshes performed before syncing.",
	})

	syncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "syncer",
		Name:      "failures_total",
		Help:      "Number of sync attempts that ended in an upstream error.",
	})

	authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "syncer",
		Name:      "auth_failures_total",
		Help:      "Number of syncs aborted by a rejected or revoked authorization.",
	})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "strafforts",
		Subsystem: "syncer",
		Name:      "duration_seconds",
		Help:      "Wall time of completed sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(activitiesSynced, tokensRefreshed, syncFailures, authFailures, syncDuration)
}
