package store

import (
	"context"
	"database/sql"
	"time"

	"flight_tracker/internal/flight"
)

const (
	deleteStaleFlightsSQL = `DELETE FROM flights WHERE updated_at < ?`

	deleteOrphanPointsSQL = `
		DELETE FROM trail_points
		WHERE flight_id NOT IN (SELECT id FROM flights)
	`

	// Keep the newest maxTrailPoints per flight; seq breaks timestamp ties.
	deleteExcessPointsSQL = `
		DELETE FROM trail_points
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY flight_id ORDER BY timestamp DESC, id DESC) AS rn
				FROM trail_points
			) AS ranked
			WHERE rn > ?
		)
	`

	countPointsSQL = `SELECT COUNT(*) FROM trail_points`
)

// Sweep applies the retention policy in one transaction: flights not updated
// within maxAge are deleted, trail points of deleted flights are removed,
// and every remaining trail is cut to its newest maxTrailPoints points.
// Failures are returned to the caller and not retried.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration, maxTrailPoints int) (flight.SweepResult, error) {
	if maxTrailPoints <= 0 {
		maxTrailPoints = flight.DefaultMaxTrailPoints
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result flight.SweepResult
	cutoff := s.cutoff(maxAge)

	err := s.withTx(ctx, "sweep", func(tx *sql.Tx) error {
		var before, after int
		if err := tx.QueryRowContext(ctx, countPointsSQL).Scan(&before); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, deleteStaleFlightsSQL, cutoff)
		if err != nil {
			return err
		}
		pruned, err := res.RowsAffected()
		if err != nil {
			return err
		}
		result.PrunedFlights = int(pruned)

		if _, err := tx.ExecContext(ctx, deleteOrphanPointsSQL); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteExcessPointsSQL, maxTrailPoints); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, countPointsSQL).Scan(&after); err != nil {
			return err
		}
		result.PrunedPoints = before - after
		return nil
	})
	if err != nil {
		return flight.SweepResult{}, err
	}
	return result, nil
}
