package tasks

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Dispatcher drains the task_outbox table and delivers tasks to Kafka.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("task dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until the dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	batch, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	if err := d.deliver(ctx, batch); err != nil {
		log.Printf("tasks: delivery failure: %v", err)
		failedCounter.Add(float64(len(batch)))
		if dlqErr := d.moveToDLQ(ctx, batch, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.markPublished(ctx, batch)
	}

	deliveredCounter.Add(float64(len(batch)))
	return d.markPublished(ctx, batch)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Task, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT task_id, task_type, dedupe_key, payload, attempts, created_at
        FROM task_outbox
        WHERE published_at IS NULL
        ORDER BY task_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := make([]Task, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.TaskType, &task.DedupeKey, &task.Payload, &task.Attempts, &task.CreatedAt); err != nil {
			return nil, err
		}
		batch = append(batch, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE task_outbox SET claimed_at = NOW() WHERE task_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return batch, nil
}

func (d *Dispatcher) deliver(ctx context.Context, batch []Task) error {
	byTopic := make(map[string][]kafka.Message)

	for _, task := range batch {
		record := kafka.Message{
			Key:   []byte(task.DedupeKey),
			Value: task.Payload,
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "task_type", Value: []byte(task.TaskType)},
				{Key: "task_id", Value: []byte(strconv.FormatInt(task.ID, 10))},
				{Key: "attempts", Value: []byte(strconv.Itoa(task.Attempts))},
			},
		}
		topic := Topic(task.TaskType)
		byTopic[topic] = append(byTopic[topic], record)
	}

	for topic, msgs := range byTopic {
		if err := d.producer.WriteMessages(ctx, topic, msgs...); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, batch []Task) error {
	ids := make([]int64, 0, len(batch))
	for _, task := range batch {
		ids = append(ids, task.ID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE task_outbox SET published_at = NOW() WHERE task_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, batch []Task, reason string) error {
	for _, task := range batch {
		task.Attempts++
		if err := d.dlq.Write(ctx, task, reason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(task.TaskType).Inc()
	}
	return nil
}
