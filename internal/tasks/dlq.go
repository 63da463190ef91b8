package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter persists failed tasks for later retry or investigation.
type DLQWriter struct {
	pool      *pgxpool.Pool
	baseDelay time.Duration
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool, baseDelay: time.Minute}
}

// Write records a failed task for a backed-off retry. Task.Attempts counts
// the failures so far and drives both the stored retry count and the delay
// before the manager requeues it.
func (w *DLQWriter) Write(ctx context.Context, task Task, reason string) error {
	attempts := task.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := backoffDelay(attempts, w.baseDelay)
	_, err := w.pool.Exec(ctx,
		`INSERT INTO task_dlq (task_id, task_type, dedupe_key, payload, reason, retry_count, last_attempt_at, next_retry_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW() + $7::interval,NOW())`,
		task.ID, task.TaskType, task.DedupeKey, task.Payload, reason, attempts, delay)
	return err
}

// Quarantine parks a task whose failure no amount of retrying can fix.
func (w *DLQWriter) Quarantine(ctx context.Context, task Task, reason string) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO task_dlq (task_id, task_type, dedupe_key, payload, reason, retry_count, quarantined_at, quarantine_reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW(),$5,NOW())`,
		task.ID, task.TaskType, task.DedupeKey, task.Payload, reason, task.Attempts)
	if err == nil {
		quarantinedCounter.WithLabelValues(task.TaskType).Inc()
	}
	return err
}

// DLQManager retries dead-lettered tasks with exponential backoff and
// quarantines entries that exhaust their retry budget.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce processes a batch of DLQ entries and returns the count of
// successfully re-queued tasks.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, task_type, dedupe_key, payload, retry_count
                    FROM task_dlq
                   WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
                   ORDER BY created_at
                   LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}

	entries := make([]dlqEntry, 0)
	for rows.Next() {
		var entry dlqEntry
		if scanErr := rows.Scan(&entry.ID, &entry.TaskType, &entry.DedupeKey, &entry.Payload, &entry.RetryCount); scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, rowsErr
	}

	processed := 0
	for _, entry := range entries {
		if procErr := m.handleEntry(ctx, entry); procErr != nil {
			err = errors.Join(err, procErr)
		} else {
			processed++
		}
	}
	return processed, err
}

// handleEntry applies retry/quarantine logic for a single DLQ entry.
func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx,
			`UPDATE task_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
			"retry limit reached", entry.ID); err != nil {
			return err
		}
		quarantinedCounter.WithLabelValues(entry.TaskType).Inc()
		return tx.Commit(ctx)
	}

	if requeueErr := requeueTask(ctx, tx, entry); requeueErr != nil {
		delay := backoffDelay(entry.RetryCount+1, m.baseDelay)
		if _, err := tx.Exec(ctx,
			`UPDATE task_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + $1::interval,
                   reason = $2
             WHERE dlq_id = $3`,
			delay, requeueErr.Error(), entry.ID,
		); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	retriedCounter.WithLabelValues(entry.TaskType).Inc()
	return tx.Commit(ctx)
}

// backoffDelay calculates exponential backoff capped at one hour.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// requeueTask reinserts the task into the primary outbox table for replay,
// carrying the accumulated attempt count so the next failure backs off
// further. A pending duplicate already in the outbox absorbs the retry.
func requeueTask(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO task_outbox (task_type, dedupe_key, payload, attempts, created_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (task_type, dedupe_key) WHERE published_at IS NULL DO NOTHING`,
		entry.TaskType, entry.DedupeKey, entry.Payload, entry.RetryCount)
	return err
}

// dlqEntry represents a task_dlq row selected for processing.
type dlqEntry struct {
	ID         int64
	TaskType   string
	DedupeKey  string
	Payload    []byte
	RetryCount int
}
