package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"flight_tracker/internal/flight"
)

const upsertFlightSQL = `
	INSERT INTO flights (id, callsign, latitude, longitude, altitude, heading, speed,
	                     vertical_rate, on_ground, squawk, timestamp, source, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		callsign = excluded.callsign,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		altitude = excluded.altitude,
		heading = excluded.heading,
		speed = excluded.speed,
		vertical_rate = excluded.vertical_rate,
		on_ground = excluded.on_ground,
		squawk = excluded.squawk,
		timestamp = excluded.timestamp,
		source = excluded.source,
		updated_at = excluded.updated_at
`

const insertPointSQL = `
	INSERT INTO trail_points (flight_id, latitude, longitude, altitude, timestamp)
	VALUES (?, ?, ?, ?, ?)
`

// UpsertOne inserts or fully replaces a flight and appends its trail point.
func (s *Store) UpsertOne(ctx context.Context, f flight.Flight) error {
	_, err := s.UpsertBatch(ctx, []flight.Flight{f})
	return err
}

// UpsertBatch upserts all flights in one transaction, appending one trail
// point per flight. Either every flight in the batch is stored or none is.
// It returns the number of flights written.
func (s *Store) UpsertBatch(ctx context.Context, flights []flight.Flight) (int, error) {
	if len(flights) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := s.now().UnixMilli()
	err := s.withTx(ctx, "upsert batch", func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, upsertFlightSQL)
		if err != nil {
			return err
		}
		defer func() { _ = upsert.Close() }()

		point, err := tx.PrepareContext(ctx, insertPointSQL)
		if err != nil {
			return err
		}
		defer func() { _ = point.Close() }()

		for _, f := range flights {
			if _, err := upsert.ExecContext(ctx,
				f.ID, f.Callsign, f.Latitude, f.Longitude, f.Altitude, f.Heading, f.Speed,
				f.VerticalRate, f.OnGround, f.Squawk, f.Timestamp, f.Source, updatedAt,
			); err != nil {
				return err
			}
			if _, err := point.ExecContext(ctx,
				f.ID, f.Latitude, f.Longitude, f.Altitude, f.Timestamp,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(flights), nil
}

// GetAll returns flights updated within maxAge, ordered by id.
func (s *Store) GetAll(ctx context.Context, maxAge time.Duration) ([]flight.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE updated_at >= ?
		ORDER BY id
	`, s.cutoff(maxAge))
	if err != nil {
		return nil, storageErr("get flights", err)
	}
	result, err := scanFlights(rows)
	return result, storageErr("get flights", err)
}

// GetSince returns fresh flights whose upstream report time is after since
// (epoch ms), for clients polling incrementally.
func (s *Store) GetSince(ctx context.Context, since int64, maxAge time.Duration) ([]flight.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE updated_at >= ? AND timestamp > ?
		ORDER BY id
	`, s.cutoff(maxAge), since)
	if err != nil {
		return nil, storageErr("get flights since", err)
	}
	result, err := scanFlights(rows)
	return result, storageErr("get flights since", err)
}

// GetByID returns the current state of one flight, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*flight.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := scanFlight(s.db.QueryRowContext(ctx, `
		SELECT `+flightColumns+` FROM flights WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get flight", err)
	}
	return &f, nil
}

// Stats returns raw row counts, ignoring staleness.
func (s *Store) Stats(ctx context.Context) (flight.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats flight.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM flights), (SELECT COUNT(*) FROM trail_points)
	`).Scan(&stats.FlightCount, &stats.TrailPointCount)
	return stats, storageErr("stats", err)
}
