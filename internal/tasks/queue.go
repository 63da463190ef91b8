// Package tasks persists background work in Postgres and delivers it to
// worker processes over Kafka. Enqueue is transactional with the caller's
// state change; delivery is at-least-once with a dead-letter queue for
// exhausted work.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task types routed through the queue.
const (
	TypeSyncAthlete        = "athlete.sync"
	TypeDeauthorizeAthlete = "athlete.deauthorize"
	TypeMailingListUpdate  = "mailinglist.update"
)

// Topic returns the Kafka topic a task type is delivered on.
func Topic(taskType string) string {
	return "strafforts.tasks." + taskType
}

// Task is one unit of queued work. Attempts counts completed delivery or
// handling failures; it rides along through Kafka so a worker failure lands
// the task back in the DLQ with the right backoff.
type Task struct {
	ID        int64
	TaskType  string
	DedupeKey string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// SyncPayload is the payload for athlete.sync tasks.
type SyncPayload struct {
	AthleteID int64 `json:"athlete_id"`
	Full      bool  `json:"full"`
}

// DeauthorizePayload is the payload for athlete.deauthorize tasks.
type DeauthorizePayload struct {
	AthleteID   int64  `json:"athlete_id"`
	AccessToken string `json:"access_token"`
}

// MailingListPayload is the payload for mailinglist.update tasks.
type MailingListPayload struct {
	Email     string `json:"email"`
	Subscribe bool   `json:"subscribe"`
}

// Queue writes tasks into the task_outbox table.
type Queue struct {
	pool *pgxpool.Pool
}

// NewQueue constructs a Queue.
func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue persists a task. A pending task with the same (type, dedupe key)
// coalesces with the new one, so repeated sync requests for one athlete
// collapse into a single delivery. Returns false when coalesced.
func (q *Queue) Enqueue(ctx context.Context, taskType, dedupeKey string, payload interface{}) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	tag, err := q.pool.Exec(ctx,
		`INSERT INTO task_outbox (task_type, dedupe_key, payload, created_at)
		 VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (task_type, dedupe_key) WHERE published_at IS NULL DO NOTHING`,
		taskType, dedupeKey, body)
	if err != nil {
		return false, err
	}

	inserted := tag.RowsAffected() > 0
	if inserted {
		enqueuedCounter.WithLabelValues(taskType).Inc()
	} else {
		coalescedCounter.WithLabelValues(taskType).Inc()
	}
	return inserted, nil
}

// EnqueueTx is Enqueue inside an existing transaction, for callers that need
// the task atomic with their own writes.
func (q *Queue) EnqueueTx(ctx context.Context, tx pgx.Tx, taskType, dedupeKey string, payload interface{}) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO task_outbox (task_type, dedupe_key, payload, created_at)
		 VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (task_type, dedupe_key) WHERE published_at IS NULL DO NOTHING`,
		taskType, dedupeKey, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
