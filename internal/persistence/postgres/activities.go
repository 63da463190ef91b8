package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/emilgoldsmith/strafforts/internal/domain"
	"github.com/emilgoldsmith/strafforts/internal/observability"
)

// UpsertActivityPage replaces one fetched page of activities (with their
// achievement entries and race classifications) and advances the sync cursor
// in a single transaction. A crash mid-sync therefore leaves the cursor at
// the last committed page.
func (r *Repository) UpsertActivityPage(ctx context.Context, athleteID int64, activities []domain.Activity, races []domain.Race, cursor int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	for _, activity := range activities {
		if err = upsertActivity(ctx, tx, activity); err != nil {
			return err
		}
	}
	for _, race := range races {
		if err = upsertRace(ctx, tx, race); err != nil {
			return err
		}
	}

	if _, err = tx.Exec(ctx,
		`UPDATE athletes SET last_activity_cursor = GREATEST(last_activity_cursor, $2), updated_at = NOW() WHERE id = $1`,
		athleteID, cursor); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	for _, activity := range activities {
		observability.RecordActivityPersisted(activity.StartDate)
	}
	return nil
}

func upsertActivity(ctx context.Context, tx pgx.Tx, activity domain.Activity) error {
	const stmt = `INSERT INTO activities (id, athlete_id, name, distance, moving_time, elapsed_time,
			elevation_gain, cadence, gear_id, workout_type, start_date, start_date_local, city, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			distance = EXCLUDED.distance,
			moving_time = EXCLUDED.moving_time,
			elapsed_time = EXCLUDED.elapsed_time,
			elevation_gain = EXCLUDED.elevation_gain,
			cadence = EXCLUDED.cadence,
			gear_id = EXCLUDED.gear_id,
			workout_type = EXCLUDED.workout_type,
			start_date = EXCLUDED.start_date,
			start_date_local = EXCLUDED.start_date_local,
			city = EXCLUDED.city,
			updated_at = NOW()`

	if _, err := tx.Exec(ctx, stmt, activity.ID, activity.AthleteID, activity.Name, activity.Distance,
		activity.MovingTime, activity.ElapsedTime, activity.ElevationGain, activity.Cadence,
		activity.GearID, int(activity.WorkoutType), activity.StartDate, activity.StartDateLocal,
		activity.City); err != nil {
		return err
	}

	// The source remains authoritative for achievement entries; replace the
	// whole set so retag/edit on the source side wins.
	if _, err := tx.Exec(ctx, `DELETE FROM achievements WHERE activity_id = $1`, activity.ID); err != nil {
		return err
	}
	for _, entry := range activity.Achievements {
		if _, err := tx.Exec(ctx,
			`INSERT INTO achievements (activity_id, athlete_id, effort_type, elapsed_time, distance, trophy, start_date)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			activity.ID, activity.AthleteID, entry.EffortType, entry.ElapsedTime, entry.Distance,
			entry.Trophy, entry.StartDate); err != nil {
			return err
		}
	}

	// Re-bucketing happens via upsertRace; a retagged non-race activity loses
	// its race row here.
	if activity.WorkoutType != domain.WorkoutTypeRace {
		if _, err := tx.Exec(ctx, `DELETE FROM races WHERE activity_id = $1`, activity.ID); err != nil {
			return err
		}
	}
	return nil
}

func upsertRace(ctx context.Context, tx pgx.Tx, race domain.Race) error {
	const stmt = `INSERT INTO races (activity_id, athlete_id, race_distance_name, start_date)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (activity_id) DO UPDATE SET
			race_distance_name = EXCLUDED.race_distance_name,
			start_date = EXCLUDED.start_date`
	_, err := tx.Exec(ctx, stmt, race.ActivityID, race.AthleteID, race.RaceDistance.Name, race.StartDate)
	return err
}

// CountActivities returns the athlete's stored run count.
func (r *Repository) CountActivities(ctx context.Context, athleteID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE athlete_id = $1`, athleteID).Scan(&count)
	return count, err
}

// ListAchievements returns the achievement entries for one best-effort type,
// the ranking engine's input set.
func (r *Repository) ListAchievements(ctx context.Context, athleteID int64, effortType string) ([]domain.BestEffort, error) {
	const query = `SELECT a.activity_id, a.athlete_id, a.effort_type, a.elapsed_time, a.trophy, a.start_date
		FROM achievements a WHERE a.athlete_id = $1 AND a.effort_type = $2
		ORDER BY a.elapsed_time ASC, a.activity_id ASC`

	rows, err := r.pool.Query(ctx, query, athleteID, effortType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var efforts []domain.BestEffort
	for rows.Next() {
		var effort domain.BestEffort
		var trophy bool
		if err := rows.Scan(&effort.ActivityID, &effort.AthleteID, &effort.EffortType,
			&effort.ElapsedTime, &trophy, &effort.StartDate); err != nil {
			return nil, err
		}
		effort.PersonalBest = trophy // carries the trophy flag; resolved by the engine
		efforts = append(efforts, effort)
	}
	return efforts, rows.Err()
}

// ListAchievementTypes returns the distinct best-effort types present in an
// athlete's achievement set.
func (r *Repository) ListAchievementTypes(ctx context.Context, athleteID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT effort_type FROM achievements WHERE athlete_id = $1`, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		types = append(types, name)
	}
	return types, rows.Err()
}

// ListRaces returns the athlete's races, optionally filtered by distance
// bucket name or year.
func (r *Repository) ListRaces(ctx context.Context, athleteID int64, distanceName string, year int) ([]domain.Race, error) {
	query := `SELECT activity_id, athlete_id, race_distance_name, start_date FROM races WHERE athlete_id = $1`
	args := []interface{}{athleteID}
	if distanceName != "" {
		args = append(args, distanceName)
		query += ` AND race_distance_name = $2`
	} else if year > 0 {
		args = append(args, year)
		query += ` AND EXTRACT(YEAR FROM start_date) = $2`
	}
	query += ` ORDER BY start_date DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var races []domain.Race
	for rows.Next() {
		var race domain.Race
		var distName string
		if err := rows.Scan(&race.ActivityID, &race.AthleteID, &distName, &race.StartDate); err != nil {
			return nil, err
		}
		race.RaceDistance = domain.RaceDistance{Name: distName}
		races = append(races, race)
	}
	return races, rows.Err()
}

// RaceCounts returns race counts grouped by distance bucket and by year.
func (r *Repository) RaceCounts(ctx context.Context, athleteID int64) (map[string]int, map[int]int, error) {
	byDistance := make(map[string]int)
	byYear := make(map[int]int)

	rows, err := r.pool.Query(ctx,
		`SELECT race_distance_name, EXTRACT(YEAR FROM start_date)::int, COUNT(*)
		 FROM races WHERE athlete_id = $1 GROUP BY 1, 2`, athleteID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var year, count int
		if err := rows.Scan(&name, &year, &count); err != nil {
			return nil, nil, err
		}
		byDistance[name] += count
		byYear[year] += count
	}
	return byDistance, byYear, rows.Err()
}
