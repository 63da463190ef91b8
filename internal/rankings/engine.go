// Package rankings derives the per-athlete best-effort leaderboards and the
// cached profile summary from stored achievement entries.
package rankings

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// Repository is the persistence surface the engine reads from and writes to.
type Repository interface {
	ListAchievements(ctx context.Context, athleteID int64, effortType string) ([]domain.BestEffort, error)
	ListAchievementTypes(ctx context.Context, athleteID int64) ([]string, error)
	ReplaceBestEfforts(ctx context.Context, athleteID int64, effortType string, efforts []domain.BestEffort) error
}

// Engine recomputes best-effort rankings. Recomputation is idempotent: the
// stored ranking is always replaced wholesale with the derived one.
type Engine struct {
	repo  Repository
	limit int
	newID func() string

	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	athleteID  int64
	effortType string
}

// NewEngine constructs an Engine keeping at most limit entries per
// (athlete, effort type) pair.
func NewEngine(repo Repository, limit int) *Engine {
	if limit <= 0 {
		limit = 100
	}
	return &Engine{
		repo:  repo,
		limit: limit,
		newID: func() string { return uuid.NewString() },
		locks: make(map[lockKey]*sync.Mutex),
	}
}

// Recompute rebuilds the ranking for one (athlete, effort type) pair.
// Entries are ordered fastest first and capped at the configured limit; the
// single fastest trophy-flagged entry is marked as the personal best and is
// kept in the ranking even when it falls outside the cap. A
// per-pair lock serializes concurrent recomputations so the stored state is
// always one engine run's complete output.
func (e *Engine) Recompute(ctx context.Context, athleteID int64, effortType string) error {
	lock := e.lockFor(lockKey{athleteID: athleteID, effortType: effortType})
	lock.Lock()
	defer lock.Unlock()

	entries, err := e.repo.ListAchievements(ctx, athleteID, effortType)
	if err != nil {
		return err
	}

	ranked := e.rank(athleteID, effortType, entries)
	if err := e.repo.ReplaceBestEfforts(ctx, athleteID, effortType, ranked); err != nil {
		return err
	}
	recomputeCounter.Inc()
	return nil
}

// RecomputeAll rebuilds every effort type present in the athlete's
// achievement set.
func (e *Engine) RecomputeAll(ctx context.Context, athleteID int64) error {
	types, err := e.repo.ListAchievementTypes(ctx, athleteID)
	if err != nil {
		return err
	}
	for _, effortType := range types {
		if err := e.Recompute(ctx, athleteID, effortType); err != nil {
			return err
		}
	}
	log.Printf("rankings: athlete %d recomputed %d effort types", athleteID, len(types))
	return nil
}

// rank derives the stored ranking from raw achievement entries. The incoming
// PersonalBest field carries the source trophy flag; the output reserves it
// for the one fastest trophy entry.
func (e *Engine) rank(athleteID int64, effortType string, entries []domain.BestEffort) []domain.BestEffort {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ElapsedTime < entries[j].ElapsedTime
	})

	// Locate the fastest trophy entry before capping: the personal best must
	// survive even when it is slower than the cut.
	pbIndex := -1
	for i, entry := range entries {
		if entry.PersonalBest {
			pbIndex = i
			break
		}
	}

	if len(entries) > e.limit {
		if pbIndex >= e.limit {
			entries[e.limit-1] = entries[pbIndex]
			pbIndex = e.limit - 1
		}
		entries = entries[:e.limit]
	}

	ranked := make([]domain.BestEffort, 0, len(entries))
	for i, entry := range entries {
		ranked = append(ranked, domain.BestEffort{
			ID:           e.newID(),
			AthleteID:    athleteID,
			ActivityID:   entry.ActivityID,
			EffortType:   effortType,
			ElapsedTime:  entry.ElapsedTime,
			Rank:         i + 1,
			PersonalBest: i == pbIndex,
			StartDate:    entry.StartDate,
		})
	}
	return ranked
}

func (e *Engine) lockFor(key lockKey) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}
