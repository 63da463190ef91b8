package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

func TestDeauthorizeRejectsBlankToken(t *testing.T) {
	d := NewDeauthorizer(&fakeLifecycleRepo{}, &fakeRevoker{}, nil)

	err := d.Deauthorize(context.Background(), "")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "access_token", validationErr.Field)
}

func TestDeauthorizeUnknownToken(t *testing.T) {
	d := NewDeauthorizer(&fakeLifecycleRepo{}, &fakeRevoker{}, nil)

	err := d.Deauthorize(context.Background(), "tok_unknown")
	require.ErrorIs(t, err, domain.ErrAthleteNotFound)
}

func TestDeauthorizeResetsCountBeforeRevoke(t *testing.T) {
	repo := &fakeLifecycleRepo{athlete: &domain.Athlete{ID: 42, AccessToken: "tok", Email: "ada@example.com", TotalRunCount: 12}}
	revoker := &fakeRevoker{}
	queue := &fakeQueue{}
	d := NewDeauthorizer(repo, revoker, queue)

	require.NoError(t, d.Deauthorize(context.Background(), "tok"))

	require.True(t, repo.resetCalled)
	require.True(t, repo.deleted)
	require.Equal(t, 1, revoker.calls)
	require.Less(t, repo.resetSeq, revoker.seq, "run count must be zeroed before the upstream revoke")
	require.Less(t, revoker.seq, repo.deleteSeq)

	require.Len(t, queue.enqueued, 1)
	require.Equal(t, tasks.TypeMailingListUpdate, queue.enqueued[0].taskType)
}

func TestDeauthorizePurgesDespiteRevokeFailure(t *testing.T) {
	repo := &fakeLifecycleRepo{athlete: &domain.Athlete{ID: 42, AccessToken: "tok"}}
	revoker := &fakeRevoker{err: errors.New("upstream down")}
	d := NewDeauthorizer(repo, revoker, nil)

	require.NoError(t, d.Deauthorize(context.Background(), "tok"))
	require.True(t, repo.deleted)
}

var seq int

func nextSeq() int {
	seq++
	return seq
}

type fakeLifecycleRepo struct {
	athlete     *domain.Athlete
	resetCalled bool
	resetSeq    int
	deleted     bool
	deleteSeq   int
}

func (f *fakeLifecycleRepo) GetAthleteByAccessToken(_ context.Context, accessToken string) (domain.Athlete, error) {
	if f.athlete == nil || f.athlete.AccessToken != accessToken {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return *f.athlete, nil
}

func (f *fakeLifecycleRepo) ResetTotalRunCount(context.Context, int64) error {
	f.resetCalled = true
	f.resetSeq = nextSeq()
	return nil
}

func (f *fakeLifecycleRepo) DeleteAthlete(context.Context, int64) error {
	f.deleted = true
	f.deleteSeq = nextSeq()
	return nil
}

type fakeRevoker struct {
	calls int
	seq   int
	err   error
}

func (f *fakeRevoker) Revoke(context.Context, string) error {
	f.calls++
	f.seq = nextSeq()
	return f.err
}

type fakeQueue struct {
	enqueued []struct {
		taskType  string
		dedupeKey string
	}
}

func (f *fakeQueue) Enqueue(_ context.Context, taskType, dedupeKey string, _ interface{}) (bool, error) {
	f.enqueued = append(f.enqueued, struct {
		taskType  string
		dedupeKey string
	}{taskType, dedupeKey})
	return true, nil
}
