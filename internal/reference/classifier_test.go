package reference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyRaceDistance(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     string
	}{
		{name: "exact 5k", distance: 5000, want: "5k"},
		{name: "10k lower band edge", distance: 9750, want: "10k"},
		{name: "just under 10k band", distance: 9700, want: "Other Distances"},
		{name: "10k upper band edge", distance: 10500, want: "10k"},
		{name: "just over 10k band", distance: 10501, want: "Other Distances"},
		{name: "exact mile", distance: 1609, want: "1 mile"},
		{name: "half marathon with gps overshoot", distance: 21500, want: "Half Marathon"},
		{name: "marathon slightly short", distance: 41500, want: "Marathon"},
		{name: "hundred miler", distance: 160934, want: "100 miles"},
		{name: "between buckets", distance: 7000, want: "Other Distances"},
		{name: "parkrun double", distance: 10000, want: "10k"},
		{name: "zero distance", distance: 0, want: "Other Distances"},
		{name: "negative distance", distance: -42, want: "Other Distances"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyRaceDistance(tc.distance)
			require.Equal(t, tc.want, got.Name)
		})
	}
}

func TestClassifyRaceDistanceMalformedInput(t *testing.T) {
	require.Equal(t, "Other Distances", ClassifyRaceDistance(math.NaN()).Name)
	require.Equal(t, "Other Distances", ClassifyRaceDistance(math.Inf(1)).Name)
}

// Nominal distances always classify to their own bucket; where neighbouring
// bands overlap, the smaller nominal wins deterministically.
func TestClassifyRaceDistanceBandEdges(t *testing.T) {
	for _, bucket := range RaceDistances() {
		require.Equal(t, bucket.Name, ClassifyRaceDistance(bucket.Distance).Name)
	}

	// A half marathon logged 2.5% short also sits inside the 20k band
	// (19500..21000); the classifier resolves the overlap toward 20k.
	require.Equal(t, "20k", ClassifyRaceDistance(21097*underTolerance).Name)
	// Just past the 20k band the overlap disappears.
	require.Equal(t, "Half Marathon", ClassifyRaceDistance(21001).Name)
	require.Equal(t, "Half Marathon", ClassifyRaceDistance(21097*overTolerance).Name)
}

func TestReferenceLookups(t *testing.T) {
	plan, ok := SubscriptionPlanByName("Annual PRO")
	require.True(t, ok)
	require.Equal(t, 365, plan.DurationDays)
	require.Equal(t, int64(599), plan.AmountMinorUnits())

	_, ok = SubscriptionPlanByName("Platinum PRO")
	require.False(t, ok)

	effortType, ok := BestEffortTypeByName("Half Marathon")
	require.True(t, ok)
	require.Equal(t, "Half Marathon", effortType.Name)

	other, ok := RaceDistanceByName("Other Distances")
	require.True(t, ok)
	require.True(t, other.IsCatchAll())
}
