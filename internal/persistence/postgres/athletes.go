// Package postgres provides pgx-backed persistence for athletes and their
// derived records. Each exported method is one transaction boundary.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/observability"
)

// Repository provides access to all persisted aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool exposes the underlying pool for components owning their own SQL
// (task queue).
func (r *Repository) Pool() *pgxpool.Pool { return r.pool }

const athleteColumns = `id, first_name, last_name, email, profile_url, access_token, refresh_token,
	token_expires_at, is_active, email_confirmed, confirmation_token, total_run_count,
	last_activity_cursor, last_active_at, created_at, updated_at`

func scanAthlete(row pgx.Row) (domain.Athlete, error) {
	var a domain.Athlete
	var lastActiveAt *time.Time
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.ProfileURL, &a.AccessToken,
		&a.RefreshToken, &a.TokenExpiresAt, &a.IsActive, &a.EmailConfirmed, &a.ConfirmationToken,
		&a.TotalRunCount, &a.LastActivityCursor, &lastActiveAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Athlete{}, err
	}
	if lastActiveAt != nil {
		a.LastActiveAt = *lastActiveAt
	}
	return a, nil
}

// UpsertAthlete creates or refreshes the athlete row keyed by Strava id.
// Exchanging a token twice for the same athlete updates in place rather than
// duplicating, and reactivates a previously deactivated account.
func (r *Repository) UpsertAthlete(ctx context.Context, a domain.Athlete) (domain.Athlete, error) {
	const query = `INSERT INTO athletes (id, first_name, last_name, email, profile_url, access_token,
			refresh_token, token_expires_at, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = COALESCE(NULLIF(EXCLUDED.email, ''), athletes.email),
			profile_url = EXCLUDED.profile_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING ` + athleteColumns

	row := r.pool.QueryRow(ctx, query, a.ID, a.FirstName, a.LastName, a.Email, a.ProfileURL,
		a.AccessToken, a.RefreshToken, a.TokenExpiresAt)
	return scanAthlete(row)
}

// GetAthlete fetches an athlete by id.
func (r *Repository) GetAthlete(ctx context.Context, athleteID int64) (domain.Athlete, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+athleteColumns+` FROM athletes WHERE id = $1`, athleteID)
	a, err := scanAthlete(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return a, err
}

// GetAthleteByAccessToken fetches an athlete by its current access token.
func (r *Repository) GetAthleteByAccessToken(ctx context.Context, accessToken string) (domain.Athlete, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+athleteColumns+` FROM athletes WHERE access_token = $1`, accessToken)
	a, err := scanAthlete(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return a, err
}

// GetAthleteByConfirmationToken fetches an athlete by email confirmation token.
func (r *Repository) GetAthleteByConfirmationToken(ctx context.Context, token string) (domain.Athlete, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+athleteColumns+` FROM athletes WHERE confirmation_token = $1`, token)
	a, err := scanAthlete(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Athlete{}, domain.ErrAthleteNotFound
	}
	return a, err
}

// SaveTokens persists a refreshed token grant. Single writer per athlete is
// enforced by the caller's keyed lock.
func (r *Repository) SaveTokens(ctx context.Context, athleteID int64, grant domain.TokenGrant) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE athletes SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW() WHERE id = $1`,
		athleteID, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAthleteNotFound
	}
	return nil
}

// ResetTotalRunCount zeroes the visible run counter. Called before
// deauthorization is attempted so a crashed revoke never leaves a stale count.
func (r *Repository) ResetTotalRunCount(ctx context.Context, athleteID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE athletes SET total_run_count = 0, updated_at = NOW() WHERE id = $1`, athleteID)
	return err
}

// MarkInactive flags the athlete so sync stops until re-authorization.
func (r *Repository) MarkInactive(ctx context.Context, athleteID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE athletes SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, athleteID)
	return err
}

// ConfirmEmail flips the confirmation state and clears the one-shot token.
func (r *Repository) ConfirmEmail(ctx context.Context, athleteID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE athletes SET email_confirmed = TRUE, confirmation_token = '', updated_at = NOW() WHERE id = $1`,
		athleteID)
	return err
}

// FinishSync records the post-sync bookkeeping: run counter and activity
// watermark.
func (r *Repository) FinishSync(ctx context.Context, athleteID int64, totalRunCount int, lastActiveAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE athletes SET total_run_count = $2, last_active_at = $3, is_active = TRUE, updated_at = NOW() WHERE id = $1`,
		athleteID, totalRunCount, lastActiveAt)
	if err == nil {
		observability.RecordSyncFinished(lastActiveAt)
	}
	return err
}

// DeleteAthlete removes the athlete; owned rows cascade via foreign keys.
func (r *Repository) DeleteAthlete(ctx context.Context, athleteID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM athletes WHERE id = $1`, athleteID)
	return err
}
