package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded tasks from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// deadLetterer records failed tasks: Write schedules a backed-off retry,
// Quarantine parks the task for operator attention.
type deadLetterer interface {
	Write(context.Context, Task, string) error
	Quarantine(context.Context, Task, string) error
}

// Message is the decoded representation of a Kafka record emitted by the
// dispatcher. Attempts counts delivery or handling failures accumulated on
// earlier rounds through the queue.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	TaskID    int64
	TaskType  string
	DedupeKey string
	Attempts  int
	Payload   json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls tasks from Kafka, decodes them, and dispatches to a Handler.
// Every fetched message is committed: retryable handler failures go back
// through the DLQ for a backed-off outbox replay, terminal failures are
// quarantined. Leaving the offset uncommitted is not a retry mechanism here,
// since a later success on the same partition would commit past it.
type Processor struct {
	reader  Reader
	handler Handler
	dlq     deadLetterer
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, dlq deadLetterer, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		dlq:     dlq,
		logger:  log.New(log.Writer(), "[worker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes tasks until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		task, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, task); handleErr != nil {
			p.logger.Printf("handler error (task_type=%s, key=%s, attempts=%d): %v", task.TaskType, task.DedupeKey, task.Attempts, handleErr)
			recordHandlerError(task)
			failed := Task{
				ID:        task.TaskID,
				TaskType:  task.TaskType,
				DedupeKey: task.DedupeKey,
				Payload:   task.Payload,
				Attempts:  task.Attempts + 1,
			}
			if domain.IsRetryable(handleErr) {
				if dlqErr := p.dlq.Write(ctx, failed, handleErr.Error()); dlqErr != nil {
					p.logger.Printf("dlq write error: %v", dlqErr)
					continue
				}
			} else if dlqErr := p.dlq.Quarantine(ctx, failed, handleErr.Error()); dlqErr != nil {
				p.logger.Printf("dlq quarantine error: %v", dlqErr)
				continue
			}
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(task)
		}
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	taskType, ok := headerValue(msg, "task_type")
	if !ok {
		return Message{}, errors.New("missing task_type header")
	}

	var taskID int64
	if raw, ok := headerValue(msg, "task_id"); ok {
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return Message{}, err
		}
		taskID = id
	}

	var attempts int
	if raw, ok := headerValue(msg, "attempts"); ok {
		n, err := strconv.Atoi(string(raw))
		if err != nil {
			return Message{}, err
		}
		attempts = n
	}

	if !json.Valid(msg.Value) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		TaskID:    taskID,
		TaskType:  string(taskType),
		DedupeKey: string(msg.Key),
		Attempts:  attempts,
		Payload:   json.RawMessage(append([]byte(nil), msg.Value...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
