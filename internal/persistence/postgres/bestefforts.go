package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/emilgoldsmith/strafforts/internal/domain"
)

// ReplaceBestEfforts swaps the ranked list for one (athlete, type) pair in a
// single transaction, keeping recomputation idempotent: the stored state is
// always exactly the engine's latest output.
func (r *Repository) ReplaceBestEfforts(ctx context.Context, athleteID int64, effortType string, efforts []domain.BestEffort) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM best_efforts WHERE athlete_id = $1 AND effort_type = $2`,
		athleteID, effortType); err != nil {
		return err
	}

	for _, effort := range efforts {
		if _, err = tx.Exec(ctx,
			`INSERT INTO best_efforts (id, athlete_id, activity_id, effort_type, elapsed_time, rank, personal_best, start_date)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			effort.ID, effort.AthleteID, effort.ActivityID, effort.EffortType,
			effort.ElapsedTime, effort.Rank, effort.PersonalBest, effort.StartDate); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListBestEfforts returns the stored ranking for one (athlete, type) pair,
// ascending by rank.
func (r *Repository) ListBestEfforts(ctx context.Context, athleteID int64, effortType string) ([]domain.BestEffort, error) {
	const query = `SELECT id, athlete_id, activity_id, effort_type, elapsed_time, rank, personal_best, start_date
		FROM best_efforts WHERE athlete_id = $1 AND effort_type = $2 ORDER BY rank ASC`

	rows, err := r.pool.Query(ctx, query, athleteID, effortType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var efforts []domain.BestEffort
	for rows.Next() {
		var effort domain.BestEffort
		if err := rows.Scan(&effort.ID, &effort.AthleteID, &effort.ActivityID, &effort.EffortType,
			&effort.ElapsedTime, &effort.Rank, &effort.PersonalBest, &effort.StartDate); err != nil {
			return nil, err
		}
		efforts = append(efforts, effort)
	}
	return efforts, rows.Err()
}

// BestEffortCounts returns per-type counts of best efforts and of
// personal-best flags for the summary view.
func (r *Repository) BestEffortCounts(ctx context.Context, athleteID int64) (map[string]int, map[string]int, error) {
	counts := make(map[string]int)
	pbCounts := make(map[string]int)

	rows, err := r.pool.Query(ctx,
		`SELECT effort_type, COUNT(*), COUNT(*) FILTER (WHERE personal_best)
		 FROM best_efforts WHERE athlete_id = $1 GROUP BY effort_type`, athleteID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var total, pbs int
		if err := rows.Scan(&name, &total, &pbs); err != nil {
			return nil, nil, err
		}
		counts[name] = total
		if pbs > 0 {
			pbCounts[name] = pbs
		}
	}
	return counts, pbCounts, rows.Err()
}
