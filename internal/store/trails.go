package store

import (
	"context"
	"database/sql"
	"time"

	"flight_tracker/internal/flight"
)

// AppendPoint appends a trail point for an existing flight. The per-flight
// cap is not checked here; the retention sweep enforces it.
func (s *Store) AppendPoint(ctx context.Context, p flight.TrailPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, insertPointSQL,
		p.FlightID, p.Latitude, p.Longitude, p.Altitude, p.Timestamp)
	return storageErr("append point", err)
}

// GetTrail returns up to limit of the most recent points for a flight in
// ascending timestamp order. A non-positive limit uses
// flight.DefaultMaxTrailPoints.
func (s *Store) GetTrail(ctx context.Context, flightID string, limit int) ([]flight.TrailPoint, error) {
	if limit <= 0 {
		limit = flight.DefaultMaxTrailPoints
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT flight_id, latitude, longitude, altitude, timestamp
		FROM trail_points
		WHERE flight_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, flightID, limit)
	if err != nil {
		return nil, storageErr("get trail", err)
	}

	points, err := scanPoints(rows)
	if err != nil {
		return nil, storageErr("get trail", err)
	}

	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// GetAllTrails returns the most recent maxPoints points of every flight
// updated within maxAge, keyed by flight id, each in ascending timestamp
// order. Flights with no trail points are omitted rather than mapped to an
// empty slice.
func (s *Store) GetAllTrails(ctx context.Context, maxAge time.Duration, maxPoints int) (map[string][]flight.TrailPoint, error) {
	if maxPoints <= 0 {
		maxPoints = flight.DefaultMaxTrailPoints
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT flight_id, latitude, longitude, altitude, timestamp
		FROM (
			SELECT t.id, t.flight_id, t.latitude, t.longitude, t.altitude, t.timestamp,
			       ROW_NUMBER() OVER (PARTITION BY t.flight_id ORDER BY t.timestamp DESC, t.id DESC) AS rn
			FROM trail_points t
			JOIN flights f ON f.id = t.flight_id
			WHERE f.updated_at >= ?
		) AS ranked
		WHERE rn <= ?
		ORDER BY flight_id, timestamp ASC, id ASC
	`, s.cutoff(maxAge), maxPoints)
	if err != nil {
		return nil, storageErr("get all trails", err)
	}

	points, err := scanPoints(rows)
	if err != nil {
		return nil, storageErr("get all trails", err)
	}
	return groupTrails(points), nil
}

func groupTrails(points []flight.TrailPoint) map[string][]flight.TrailPoint {
	trails := make(map[string][]flight.TrailPoint)
	for _, p := range points {
		trails[p.FlightID] = append(trails[p.FlightID], p)
	}
	return trails
}

func scanPoints(rows *sql.Rows) ([]flight.TrailPoint, error) {
	defer func() { _ = rows.Close() }()

	points := make([]flight.TrailPoint, 0)
	for rows.Next() {
		var p flight.TrailPoint
		if err := rows.Scan(&p.FlightID, &p.Latitude, &p.Longitude, &p.Altitude, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
