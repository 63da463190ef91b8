package domain

import "time"

// WorkoutType mirrors Strava's run sub-category tags.
type WorkoutType int

const (
	WorkoutTypeRun     WorkoutType = 0
	WorkoutTypeRace    WorkoutType = 1
	WorkoutTypeLongRun WorkoutType = 2
	WorkoutTypeWorkout WorkoutType = 3
)

// Name returns the canonical label used by the reference set.
func (w WorkoutType) Name() string {
	switch w {
	case WorkoutTypeRace:
		return "race"
	case WorkoutTypeLongRun:
		return "long run"
	case WorkoutTypeWorkout:
		return "workout"
	default:
		return "run"
	}
}

// Activity is a normalized run fetched from the activity source. It is
// replaced in full on re-fetch; the source remains authoritative.
type Activity struct {
	ID             int64 // Strava activity id, unique per athlete.
	AthleteID      int64
	Name           string
	Distance       float64 // meters
	MovingTime     int     // seconds
	ElapsedTime    int     // seconds
	ElevationGain  float64
	Cadence        float64
	GearID         string
	WorkoutType    WorkoutType
	StartDate      time.Time
	StartDateLocal time.Time
	City           string
	Achievements   []Achievement
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Achievement is a distance-typed effort the source computed inside an
// activity (Strava "best effort" entries). Trophy reports whether the source
// awarded its gold estimated-effort trophy, which is what qualifies the entry
// for personal-best selection.
type Achievement struct {
	EffortType  string // canonical best-effort type name, e.g. "5k"
	ElapsedTime int    // seconds
	Distance    float64
	Trophy      bool
	StartDate   time.Time
}

// Race is the race-tagged subtype of Activity, bucketed by the distance
// classifier. It is derived state and never user-assigned.
type Race struct {
	ActivityID   int64
	AthleteID    int64
	RaceDistance RaceDistance
	StartDate    time.Time
}

// RaceDistance is a canonical race-distance bucket. Distance zero is the
// "Other Distances" catch-all.
type RaceDistance struct {
	ID       int
	Name     string
	Distance float64 // nominal meters
}

// IsCatchAll reports whether the bucket is "Other Distances".
func (d RaceDistance) IsCatchAll() bool { return d.Distance == 0 }
