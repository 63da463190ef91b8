package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "strafforts",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to Postgres.",
	})
	syncFinishedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "strafforts",
		Subsystem: "persistence",
		Name:      "last_sync_finished_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed athlete sync.",
	})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, syncFinishedGauge)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordSyncFinished updates the sync completion watermark gauge.
func RecordSyncFinished(ts time.Time) {
	if ts.IsZero() {
		return
	}
	syncFinishedGauge.Set(float64(ts.Unix()))
}
