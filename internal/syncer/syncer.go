// Package syncer pulls an athlete's activities from Strava into local
// storage, page by page, with resumable cursors and per-athlete token
// refresh.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/reference"
	"github.com/emilgoldsmith/strafforts/internal/strava"
)

// tokenRefreshWindow is how close to expiry a stored access token may be
// before a sync refreshes it first.
const tokenRefreshWindow = 5 * time.Minute

// Source is the slice of the Strava client the syncer needs.
type Source interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error)
	ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]strava.SummaryActivity, error)
	GetActivity(ctx context.Context, accessToken string, activityID int64) (strava.DetailedActivity, error)
}

// Repository is the persistence surface the syncer writes through.
type Repository interface {
	GetAthlete(ctx context.Context, athleteID int64) (domain.Athlete, error)
	SaveTokens(ctx context.Context, athleteID int64, grant domain.TokenGrant) error
	UpsertActivityPage(ctx context.Context, athleteID int64, activities []domain.Activity, races []domain.Race, cursor int64) error
	CountActivities(ctx context.Context, athleteID int64) (int, error)
	FinishSync(ctx context.Context, athleteID int64, totalRunCount int, lastActiveAt time.Time) error
	MarkInactive(ctx context.Context, athleteID int64) error
}

// Syncer fetches and stores activities for one athlete at a time.
type Syncer struct {
	source   Source
	repo     Repository
	pageSize int
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New constructs a Syncer.
func New(source Source, repo Repository, pageSize int) *Syncer {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Syncer{
		source:   source,
		repo:     repo,
		pageSize: pageSize,
		now:      time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Sync fetches the athlete's runs and commits them page by page. With full
// set, the cursor is ignored and history is re-fetched from the beginning;
// otherwise only activities after the last committed page are pulled. Each
// page commits atomically with the cursor, so an interrupted sync resumes at
// the last committed page rather than starting over.
func (s *Syncer) Sync(ctx context.Context, athleteID int64, full bool) error {
	start := s.now()

	athlete, err := s.repo.GetAthlete(ctx, athleteID)
	if err != nil {
		return err
	}
	if !athlete.IsActive {
		log.Printf("syncer: athlete %d is inactive, skipping", athleteID)
		return nil
	}

	athlete, err = s.ensureFreshToken(ctx, athlete)
	if err != nil {
		return err
	}

	after := athlete.LastActivityCursor
	if full {
		after = 0
	}

	lastActiveAt := athlete.LastActiveAt
	fetched := 0
	for page := 1; ; page++ {
		summaries, err := s.source.ListActivities(ctx, athlete.AccessToken, after, page, s.pageSize)
		if err != nil {
			return s.classify(ctx, athleteID, "list activities", err)
		}
		if len(summaries) == 0 {
			break
		}

		activities, races, cursor, err := s.buildPage(ctx, athlete, summaries)
		if err != nil {
			return err
		}
		if len(activities) > 0 {
			if err := s.repo.UpsertActivityPage(ctx, athleteID, activities, races, cursor); err != nil {
				return err
			}
			fetched += len(activities)
			activitiesSynced.Add(float64(len(activities)))
		}
		if cursor > 0 && time.Unix(cursor, 0).After(lastActiveAt) {
			lastActiveAt = time.Unix(cursor, 0).UTC()
		}

		if len(summaries) < s.pageSize {
			break
		}
	}

	total, err := s.repo.CountActivities(ctx, athleteID)
	if err != nil {
		return err
	}
	if err := s.repo.FinishSync(ctx, athleteID, total, lastActiveAt); err != nil {
		return err
	}

	syncDuration.Observe(s.now().Sub(start).Seconds())
	log.Printf("syncer: athlete %d synced %d new activities (total %d)", athleteID, fetched, total)
	return nil
}

// buildPage converts one page of summaries into persistable activities,
// fetching each activity's detail for its best-effort entries and
// classifying races into distance buckets.
func (s *Syncer) buildPage(ctx context.Context, athlete domain.Athlete, summaries []strava.SummaryActivity) ([]domain.Activity, []domain.Race, int64, error) {
	var (
		activities []domain.Activity
		races      []domain.Race
		cursor     int64
	)

	for _, summary := range summaries {
		if summary.StartDate.Unix() > cursor {
			cursor = summary.StartDate.Unix()
		}
		if summary.Type != "Run" {
			continue
		}

		detail, err := s.source.GetActivity(ctx, athlete.AccessToken, summary.ID)
		if err != nil {
			return nil, nil, 0, s.classify(ctx, athlete.ID, "get activity", err)
		}

		activity := toDomainActivity(athlete.ID, detail)
		activities = append(activities, activity)

		if activity.WorkoutType == domain.WorkoutTypeRace {
			races = append(races, domain.Race{
				ActivityID:   activity.ID,
				AthleteID:    athlete.ID,
				RaceDistance: reference.ClassifyRaceDistance(activity.Distance),
				StartDate:    activity.StartDate,
			})
		}
	}

	return activities, races, cursor, nil
}

func toDomainActivity(athleteID int64, detail strava.DetailedActivity) domain.Activity {
	workoutType := domain.WorkoutTypeRun
	if detail.WorkoutType != nil {
		workoutType = domain.WorkoutType(*detail.WorkoutType)
	}

	activity := domain.Activity{
		ID:             detail.ID,
		AthleteID:      athleteID,
		Name:           detail.Name,
		Distance:       detail.Distance,
		MovingTime:     detail.MovingTime,
		ElapsedTime:    detail.ElapsedTime,
		ElevationGain:  detail.TotalElevationGain,
		Cadence:        detail.AverageCadence,
		GearID:         detail.GearID,
		WorkoutType:    workoutType,
		StartDate:      detail.StartDate,
		StartDateLocal: detail.StartDateLocal,
		City:           detail.LocationCity,
	}

	for _, entry := range detail.BestEfforts {
		activity.Achievements = append(activity.Achievements, domain.Achievement{
			EffortType:  entry.Name,
			ElapsedTime: entry.ElapsedTime,
			Distance:    entry.Distance,
			Trophy:      entry.PRRank != nil && *entry.PRRank == 1,
			StartDate:   entry.StartDate,
		})
	}
	return activity
}

// ensureFreshToken refreshes the stored grant when it is at or past the
// refresh window. The per-athlete lock serializes concurrent syncs so the
// rotated refresh token is never clobbered by a stale write.
func (s *Syncer) ensureFreshToken(ctx context.Context, athlete domain.Athlete) (domain.Athlete, error) {
	now := s.now()
	if !athlete.TokenExpiringWithin(tokenRefreshWindow, now) {
		return athlete, nil
	}

	lock := s.lockFor(athlete.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another sync may have refreshed while we waited for the lock.
	current, err := s.repo.GetAthlete(ctx, athlete.ID)
	if err != nil {
		return domain.Athlete{}, err
	}
	if !current.TokenExpiringWithin(tokenRefreshWindow, now) {
		return current, nil
	}

	grant, err := s.source.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return domain.Athlete{}, s.classify(ctx, athlete.ID, "refresh token", err)
	}
	if err := s.repo.SaveTokens(ctx, athlete.ID, grant); err != nil {
		return domain.Athlete{}, err
	}
	tokensRefreshed.Inc()

	current.AccessToken = grant.AccessToken
	current.RefreshToken = grant.RefreshToken
	current.TokenExpiresAt = grant.ExpiresAt
	return current, nil
}

func (s *Syncer) lockFor(athleteID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[athleteID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[athleteID] = lock
	}
	return lock
}

// classify wraps a Strava call failure for the task layer's retry decision.
// Revoked or rejected credentials deactivate the athlete so the queue stops
// hammering a dead authorization.
func (s *Syncer) classify(ctx context.Context, athleteID int64, op string, err error) error {
	status := strava.StatusCode(err)
	if status >= 400 && status < 500 && status != 429 {
		if markErr := s.repo.MarkInactive(ctx, athleteID); markErr != nil {
			log.Printf("syncer: failed to deactivate athlete %d: %v", athleteID, markErr)
		}
		authFailures.Inc()
		return &domain.SyncError{AthleteID: athleteID, Transient: false, Err: err}
	}

	syncFailures.Inc()
	return &domain.SyncError{AthleteID: athleteID, Transient: strava.IsTransient(err), Err: err}
}
