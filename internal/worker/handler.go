// Package worker executes queued background tasks: activity syncs, athlete
// deauthorizations and mailing list updates.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/mailinglist"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

// Syncer pulls one athlete's activities into storage.
type Syncer interface {
	Sync(ctx context.Context, athleteID int64, full bool) error
}

// RankingEngine rebuilds the derived best-effort rankings.
type RankingEngine interface {
	RecomputeAll(ctx context.Context, athleteID int64) error
}

// SummaryInvalidator drops a cached profile summary.
type SummaryInvalidator interface {
	Invalidate(athleteID int64)
}

// Deauthorizer purges an athlete after upstream revocation.
type Deauthorizer interface {
	Deauthorize(ctx context.Context, accessToken string) error
}

// Handler routes decoded tasks to their executors.
type Handler struct {
	syncer       Syncer
	rankings     RankingEngine
	summaries    SummaryInvalidator
	deauthorizer Deauthorizer
	mailingList  mailinglist.Manager
}

// NewHandler constructs a Handler.
func NewHandler(syncer Syncer, rankings RankingEngine, summaries SummaryInvalidator, deauthorizer Deauthorizer, mailingList mailinglist.Manager) *Handler {
	return &Handler{
		syncer:       syncer,
		rankings:     rankings,
		summaries:    summaries,
		deauthorizer: deauthorizer,
		mailingList:  mailingList,
	}
}

// Handle executes one task. Unknown task types are terminal: redelivering
// them cannot help.
func (h *Handler) Handle(ctx context.Context, msg tasks.Message) error {
	switch msg.TaskType {
	case tasks.TypeSyncAthlete:
		return h.handleSync(ctx, msg.Payload)
	case tasks.TypeDeauthorizeAthlete:
		return h.handleDeauthorize(ctx, msg.Payload)
	case tasks.TypeMailingListUpdate:
		return h.handleMailingList(ctx, msg.Payload)
	default:
		return &domain.ValidationError{Field: "task_type", Reason: fmt.Sprintf("unknown task type %q", msg.TaskType)}
	}
}

// handleSync syncs, rebuilds the rankings and drops the cached summary. The
// ranking rebuild is idempotent, so a redelivered sync task converges.
func (h *Handler) handleSync(ctx context.Context, raw json.RawMessage) error {
	var payload tasks.SyncPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}

	if err := h.syncer.Sync(ctx, payload.AthleteID, payload.Full); err != nil {
		return err
	}
	if err := h.rankings.RecomputeAll(ctx, payload.AthleteID); err != nil {
		return err
	}
	h.summaries.Invalidate(payload.AthleteID)
	return nil
}

// handleDeauthorize purges the athlete. A redelivered task can arrive after
// the original delivery already purged them; nothing is left to do then.
func (h *Handler) handleDeauthorize(ctx context.Context, raw json.RawMessage) error {
	var payload tasks.DeauthorizePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}

	if err := h.deauthorizer.Deauthorize(ctx, payload.AccessToken); err != nil {
		if errors.Is(err, domain.ErrAthleteNotFound) {
			log.Printf("worker: athlete %d already purged, deauthorize is a no-op", payload.AthleteID)
			return nil
		}
		return err
	}
	return nil
}

func (h *Handler) handleMailingList(ctx context.Context, raw json.RawMessage) error {
	var payload tasks.MailingListPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}

	if payload.Subscribe {
		if err := h.mailingList.Subscribe(ctx, payload.Email); err != nil {
			return err
		}
		log.Printf("worker: subscribed %s to the mailing list", payload.Email)
		return nil
	}
	if err := h.mailingList.Unsubscribe(ctx, payload.Email); err != nil {
		return err
	}
	log.Printf("worker: removed %s from the mailing list", payload.Email)
	return nil
}
