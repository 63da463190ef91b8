// Package reference holds the immutable seed data shared across athletes:
// workout types, best-effort types, race-distance buckets and subscription
// plans. The sets are built once at init and only exposed through read-only
// lookups.
package reference

import (
	"sort"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

var bestEffortTypes = []domain.BestEffortType{
	{ID: 1, Name: "50k"},
	{ID: 2, Name: "Marathon"},
	{ID: 3, Name: "Half Marathon"},
	{ID: 4, Name: "30k"},
	{ID: 5, Name: "20k"},
	{ID: 6, Name: "10 mile"},
	{ID: 7, Name: "15k"},
	{ID: 8, Name: "10k"},
	{ID: 9, Name: "5k"},
	{ID: 10, Name: "2 mile"},
	{ID: 11, Name: "1 mile"},
	{ID: 12, Name: "1k"},
	{ID: 13, Name: "1/2 mile"},
	{ID: 14, Name: "400m"},
}

// OtherDistances is the catch-all bucket for races matching no canonical band.
var OtherDistances = domain.RaceDistance{ID: 0, Name: "Other Distances", Distance: 0}

var raceDistances = []domain.RaceDistance{
	{ID: 1, Name: "1 mile", Distance: 1609},
	{ID: 2, Name: "3000m", Distance: 3000},
	{ID: 3, Name: "5k", Distance: 5000},
	{ID: 4, Name: "10k", Distance: 10000},
	{ID: 5, Name: "15k", Distance: 15000},
	{ID: 6, Name: "20k", Distance: 20000},
	{ID: 7, Name: "Half Marathon", Distance: 21097},
	{ID: 8, Name: "Marathon", Distance: 42195},
	{ID: 9, Name: "50k", Distance: 50000},
	{ID: 10, Name: "50 miles", Distance: 80467},
	{ID: 11, Name: "100k", Distance: 100000},
	{ID: 12, Name: "100 miles", Distance: 160934},
}

var subscriptionPlans = []domain.SubscriptionPlan{
	{ID: 1, Name: "Lifetime PRO", Description: "Lifetime PRO Plan", DurationDays: 0, Amount: 0, AmountPerMonth: 0},
	{ID: 2, Name: "Early Birds PRO", Description: "Early Birds PRO Plan", DurationDays: 90, Amount: 0, AmountPerMonth: 0},
	{ID: 3, Name: "Annual PRO", Description: "Annual PRO Plan", DurationDays: 365, Amount: 5.99, AmountPerMonth: 0.49},
	{ID: 4, Name: "90-day PRO", Description: "90-day PRO Plan", DurationDays: 90, Amount: 2.99, AmountPerMonth: 0.99},
	{ID: 5, Name: "Old Mates PRO", Description: "Free 30-day PRO Plan for athletes returning after inactivity", DurationDays: 30, Amount: 0, AmountPerMonth: 0},
	{ID: 6, Name: "Facebook Kudos PRO", Description: "Free 30-day PRO Plan for review kudos", DurationDays: 30, Amount: 0, AmountPerMonth: 0},
}

var (
	bestEffortTypesByName   map[string]domain.BestEffortType
	raceDistancesByName     map[string]domain.RaceDistance
	subscriptionPlansByName map[string]domain.SubscriptionPlan
)

func init() {
	bestEffortTypesByName = make(map[string]domain.BestEffortType, len(bestEffortTypes))
	for _, t := range bestEffortTypes {
		bestEffortTypesByName[t.Name] = t
	}

	raceDistancesByName = make(map[string]domain.RaceDistance, len(raceDistances)+1)
	raceDistancesByName[OtherDistances.Name] = OtherDistances
	for _, d := range raceDistances {
		raceDistancesByName[d.Name] = d
	}

	subscriptionPlansByName = make(map[string]domain.SubscriptionPlan, len(subscriptionPlans))
	for _, p := range subscriptionPlans {
		subscriptionPlansByName[p.Name] = p
	}

	// Classification depends on ascending nominal order (smallest match wins).
	sort.Slice(raceDistances, func(i, j int) bool {
		return raceDistances[i].Distance < raceDistances[j].Distance
	})
}

// BestEffortTypes returns a copy of the canonical best-effort type set.
func BestEffortTypes() []domain.BestEffortType {
	out := make([]domain.BestEffortType, len(bestEffortTypes))
	copy(out, bestEffortTypes)
	return out
}

// BestEffortTypeByName looks up a best-effort type by its canonical name.
func BestEffortTypeByName(name string) (domain.BestEffortType, bool) {
	t, ok := bestEffortTypesByName[name]
	return t, ok
}

// RaceDistances returns a copy of the canonical distance buckets ascending by
// nominal distance, excluding the catch-all.
func RaceDistances() []domain.RaceDistance {
	out := make([]domain.RaceDistance, len(raceDistances))
	copy(out, raceDistances)
	return out
}

// RaceDistanceByName looks up a bucket (including "Other Distances") by name.
func RaceDistanceByName(name string) (domain.RaceDistance, bool) {
	d, ok := raceDistancesByName[name]
	return d, ok
}

// SubscriptionPlans returns a copy of the seeded plan set.
func SubscriptionPlans() []domain.SubscriptionPlan {
	out := make([]domain.SubscriptionPlan, len(subscriptionPlans))
	copy(out, subscriptionPlans)
	return out
}

// SubscriptionPlanByName looks up a plan by its canonical name.
func SubscriptionPlanByName(name string) (domain.SubscriptionPlan, bool) {
	p, ok := subscriptionPlansByName[name]
	return p, ok
}
