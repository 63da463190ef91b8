// Package lifecycle removes athletes and everything derived from them when
// they revoke access.
package lifecycle

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

// Repository is the persistence surface deauthorization needs.
type Repository interface {
	GetAthleteByAccessToken(ctx context.Context, accessToken string) (domain.Athlete, error)
	ResetTotalRunCount(ctx context.Context, athleteID int64) error
	DeleteAthlete(ctx context.Context, athleteID int64) error
}

// Revoker invalidates the access token upstream.
type Revoker interface {
	Revoke(ctx context.Context, accessToken string) error
}

// Enqueuer schedules follow-up work.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType, dedupeKey string, payload interface{}) (bool, error)
}

// Deauthorizer tears down an athlete account end to end.
type Deauthorizer struct {
	repo    Repository
	revoker Revoker
	queue   Enqueuer
}

// NewDeauthorizer constructs a Deauthorizer.
func NewDeauthorizer(repo Repository, revoker Revoker, queue Enqueuer) *Deauthorizer {
	return &Deauthorizer{repo: repo, revoker: revoker, queue: queue}
}

// Deauthorize revokes the token upstream and purges the athlete locally.
// The visible run count is zeroed before the upstream call so a crash midway
// never leaves a deauthorized athlete showing live data. Upstream revoke
// failures are logged but do not block the purge: the athlete asked to
// leave, so leave they do.
func (d *Deauthorizer) Deauthorize(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return &domain.ValidationError{Field: "access_token", Reason: "must not be blank"}
	}

	athlete, err := d.repo.GetAthleteByAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := d.repo.ResetTotalRunCount(ctx, athlete.ID); err != nil {
		return err
	}

	if err := d.revoker.Revoke(ctx, accessToken); err != nil {
		log.Printf("lifecycle: upstream revoke failed for athlete %d: %v", athlete.ID, err)
	}

	if d.queue != nil && athlete.Email != "" {
		if _, err := d.queue.Enqueue(ctx, tasks.TypeMailingListUpdate, athlete.Email,
			tasks.MailingListPayload{Email: athlete.Email, Subscribe: false}); err != nil {
			log.Printf("lifecycle: mailing list removal enqueue failed for athlete %d: %v", athlete.ID, err)
		}
	}

	if err := d.repo.DeleteAthlete(ctx, athlete.ID); err != nil {
		return err
	}

	deauthorizations.Inc()
	log.Printf("lifecycle: athlete %d deauthorized and purged", athlete.ID)
	return nil
}

var deauthorizations = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "strafforts",
	Subsystem: "lifecycle",
	Name:      "deauthorizations_total",
	Help:      "Number of completed athlete deauthorizations.",
})

func init() {
	prometheus.MustRegister(deauthorizations)
}
