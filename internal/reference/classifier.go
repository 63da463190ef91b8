package reference

import (
	"math"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// Tolerance band applied to each nominal race distance: an actual distance
// matches when it falls within 2.5% under or 5% over the nominal.
const (
	underTolerance = 0.975
	overTolerance  = 1.05
)

// ClassifyRaceDistance buckets an actual race distance in meters into a
// canonical distance. Buckets are checked ascending by nominal distance and
// the smallest matching nominal wins, which resolves the 20k / Half Marathon
// band overlap toward 20k. Malformed input (zero, negative, NaN, Inf) falls
// back to "Other Distances" rather than failing the activity.
func ClassifyRaceDistance(actualMeters float64) domain.RaceDistance {
	if actualMeters <= 0 || math.IsNaN(actualMeters) || math.IsInf(actualMeters, 0) {
		return OtherDistances
	}

	for _, bucket := range raceDistances {
		if actualMeters >= bucket.Distance*underTolerance && actualMeters <= bucket.Distance*overTolerance {
			return bucket
		}
	}
	return OtherDistances
}
