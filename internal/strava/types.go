package strava

import "time"

// AthleteProfile is the profile object embedded in the token exchange
// response.
type AthleteProfile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	City      string `json:"city"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Profile   string `json:"profile"`
}

// SummaryActivity is one entry of the paginated athlete activity list.
type SummaryActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	Type               string    `json:"type"`
	WorkoutType        *int      `json:"workout_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	AverageCadence     float64   `json:"average_cadence"`
	GearID             string    `json:"gear_id"`
	LocationCity       string    `json:"location_city"`
}

// BestEffortEntry is one source-computed effort inside a detailed activity.
// PRRank is 1 for the gold estimated-effort trophy.
type BestEffortEntry struct {
	Name        string    `json:"name"`
	ElapsedTime int       `json:"elapsed_time"`
	MovingTime  int       `json:"moving_time"`
	Distance    float64   `json:"distance"`
	PRRank      *int      `json:"pr_rank"`
	StartDate   time.Time `json:"start_date"`
}

// DetailedActivity is the single-activity response, carrying the best-effort
// entries the ranking engine consumes.
type DetailedActivity struct {
	SummaryActivity
	Calories    float64           `json:"calories"`
	Description string            `json:"description"`
	BestEfforts []BestEffortEntry `json:"best_efforts"`
}
