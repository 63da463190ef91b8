package domain

import "time"

// BestEffortType is a canonical distance label from the static reference set.
type BestEffortType struct {
	ID   int
	Name string
}

// BestEffort is one ranked entry in an athlete's top-N list for a type.
// Rank 1 is the fastest. At most one entry per (athlete, type) carries the
// personal-best flag at any time.
type BestEffort struct {
	ID           string // uuid
	AthleteID    int64
	ActivityID   int64
	EffortType   string
	ElapsedTime  int
	Rank         int
	PersonalBest bool
	StartDate    time.Time
}

// Summary is the cached read-side aggregate exposed to the presentation layer.
type Summary struct {
	AthleteID            int64
	IsPro                bool
	TotalRunCount        int
	BestEffortCounts     map[string]int // by best-effort type name
	PersonalBestCounts   map[string]int // by best-effort type name
	RaceCountsByDistance map[string]int
	RaceCountsByYear     map[int]int
	ComputedAt           time.Time
}
