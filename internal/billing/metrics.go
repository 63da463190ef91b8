package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	chargesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "billing",
		Name:      "charges_total",
		Help:      "Number of successful signup charges, labeled by plan.",
	}, []string{"plan"})

	renewalsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "billing",
		Name:      "renewals_total",
		Help:      "Number of successful renewal charges, labeled by plan.",
	}, []string{"plan"})

	renewalFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "billing",
		Name:      "renewal_failures_total",
		Help:      "Number of renewal attempts that failed and were skipped by the sweep.",
	})

	promoGrants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "billing",
		Name:      "promo_grants_total",
		Help:      "Number of promotional plan grants, labeled by plan.",
	}, []string{"plan"})

	customersRecreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strafforts",
		Subsystem: "billing",
		Name:      "customers_recreated_total",
		Help:      "Number of provider customers recreated after being reported missing or deleted.",
	})
)

func init() {
	prometheus.MustRegister(chargesCounter, renewalsCounter, renewalFailures, promoGrants, customersRecreated)
}
