package rankings

import (
	"context"
	"sync"
	"time"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// SummaryRepository is the read surface the summarizer aggregates over.
type SummaryRepository interface {
	GetAthlete(ctx context.Context, athleteID int64) (domain.Athlete, error)
	ListSubscriptions(ctx context.Context, athleteID int64) ([]domain.Subscription, error)
	BestEffortCounts(ctx context.Context, athleteID int64) (map[string]int, map[string]int, error)
	RaceCounts(ctx context.Context, athleteID int64) (map[string]int, map[int]int, error)
}

// Summarizer serves the per-athlete profile summary from a small in-process
// cache. Sync completion invalidates the entry, so a summary is stale at
// most until the next successful sync or the TTL, whichever comes first.
type Summarizer struct {
	repo SummaryRepository
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	cache map[int64]cachedSummary
}

type cachedSummary struct {
	summary domain.Summary
	expires time.Time
}

// NewSummarizer constructs a Summarizer with the given cache TTL.
func NewSummarizer(repo SummaryRepository, ttl time.Duration) *Summarizer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Summarizer{
		repo:  repo,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[int64]cachedSummary),
	}
}

// Summary returns the athlete's profile summary, computing it on a cache miss.
func (s *Summarizer) Summary(ctx context.Context, athleteID int64) (domain.Summary, error) {
	now := s.now()

	s.mu.Lock()
	entry, ok := s.cache[athleteID]
	s.mu.Unlock()
	if ok && entry.expires.After(now) {
		summaryCacheHits.Inc()
		return entry.summary, nil
	}
	summaryCacheMisses.Inc()

	summary, err := s.compute(ctx, athleteID, now)
	if err != nil {
		return domain.Summary{}, err
	}

	s.mu.Lock()
	s.cache[athleteID] = cachedSummary{summary: summary, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return summary, nil
}

// Invalidate drops the cached summary so the next read recomputes.
func (s *Summarizer) Invalidate(athleteID int64) {
	s.mu.Lock()
	delete(s.cache, athleteID)
	s.mu.Unlock()
}

func (s *Summarizer) compute(ctx context.Context, athleteID int64, now time.Time) (domain.Summary, error) {
	athlete, err := s.repo.GetAthlete(ctx, athleteID)
	if err != nil {
		return domain.Summary{}, err
	}

	subs, err := s.repo.ListSubscriptions(ctx, athleteID)
	if err != nil {
		return domain.Summary{}, err
	}

	effortCounts, pbCounts, err := s.repo.BestEffortCounts(ctx, athleteID)
	if err != nil {
		return domain.Summary{}, err
	}

	byDistance, byYear, err := s.repo.RaceCounts(ctx, athleteID)
	if err != nil {
		return domain.Summary{}, err
	}

	return domain.Summary{
		AthleteID:            athleteID,
		IsPro:                domain.HasProSubscription(subs, now),
		TotalRunCount:        athlete.TotalRunCount,
		BestEffortCounts:     effortCounts,
		PersonalBestCounts:   pbCounts,
		RaceCountsByDistance: byDistance,
		RaceCountsByYear:     byYear,
		ComputedAt:           now,
	}, nil
}
