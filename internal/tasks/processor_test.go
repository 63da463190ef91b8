package tasks

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

func syncMessage(offset int64) kafka.Message {
	return kafka.Message{
		Topic:     Topic(TypeSyncAthlete),
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Key:       []byte("athlete:42"),
		Value:     []byte(`{"athlete_id":42,"full":false}`),
		Headers: []kafka.Header{
			{Key: "task_type", Value: []byte(TypeSyncAthlete)},
			{Key: "task_id", Value: []byte("7")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{syncMessage(10)},
		after:    contextCanceled,
	}
	handler := &stubHandler{}
	dlq := &stubDLQ{}

	processor := NewProcessor(reader, handler, dlq, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, TypeSyncAthlete, handler.last.TaskType)
	require.Equal(t, "athlete:42", handler.last.DedupeKey)
	require.Equal(t, int64(7), handler.last.TaskID)
	require.JSONEq(t, `{"athlete_id":42,"full":false}`, string(handler.last.Payload))
	require.Equal(t, 0, dlq.writeCalls)
	require.Equal(t, 0, dlq.quarantineCalls)
}

func TestProcessorDeadLettersRetryableErrorAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{syncMessage(20)},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: &domain.SyncError{AthleteID: 42, Transient: true, Err: errors.New("gateway timeout")}}
	dlq := &stubDLQ{}

	processor := NewProcessor(reader, handler, dlq, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The retry goes through the DLQ with a bumped attempt count; the offset
	// commits so the partition keeps moving.
	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, dlq.writeCalls)
	require.Equal(t, 0, dlq.quarantineCalls)
	require.Equal(t, TypeSyncAthlete, dlq.last.TaskType)
	require.Equal(t, 1, dlq.last.Attempts)
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorCarriesAttemptCountAcrossRedeliveries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := syncMessage(25)
	msg.Headers = append(msg.Headers, kafka.Header{Key: "attempts", Value: []byte("2")})

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: &domain.SyncError{AthleteID: 42, Transient: true, Err: errors.New("gateway timeout")}}
	dlq := &stubDLQ{}

	processor := NewProcessor(reader, handler, dlq, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, dlq.last.Attempts)
}

func TestProcessorQuarantinesTerminalError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{syncMessage(30)},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: &domain.ValidationError{Field: "access_token", Reason: "must not be blank"}}
	dlq := &stubDLQ{}

	processor := NewProcessor(reader, handler, dlq, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, dlq.writeCalls)
	require.Equal(t, 1, dlq.quarantineCalls)
	require.Equal(t, TypeSyncAthlete, dlq.last.TaskType)
	// Terminal failures commit so the partition is not blocked.
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorCommitsMalformedPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := syncMessage(40)
	msg.Headers = nil // no task_type header

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{}
	dlq := &stubDLQ{}

	processor := NewProcessor(reader, handler, dlq, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}

type stubDLQ struct {
	writeCalls      int
	quarantineCalls int
	last            Task
}

func (d *stubDLQ) Write(_ context.Context, task Task, _ string) error {
	d.writeCalls++
	d.last = task
	return nil
}

func (d *stubDLQ) Quarantine(_ context.Context, task Task, _ string) error {
	d.quarantineCalls++
	d.last = task
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
