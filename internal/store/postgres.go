package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flight_tracker/internal/flight"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Enabled reports whether a host has been configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

// writerLockKey is the advisory lock that serialises upserts and sweeps
// across every process sharing the database.
const writerLockKey = 0x666c6967

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flights (
	id            TEXT PRIMARY KEY CHECK (length(id) > 0),
	callsign      TEXT NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	altitude      INTEGER NOT NULL DEFAULT 0,
	heading       DOUBLE PRECISION NOT NULL DEFAULT 0,
	speed         INTEGER NOT NULL DEFAULT 0,
	vertical_rate INTEGER NOT NULL DEFAULT 0,
	on_ground     BOOLEAN NOT NULL DEFAULT FALSE,
	squawk        TEXT NOT NULL DEFAULT '',
	timestamp     BIGINT NOT NULL,
	source        TEXT NOT NULL,
	updated_at    BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flights_updated_at ON flights(updated_at);
CREATE INDEX IF NOT EXISTS idx_flights_timestamp ON flights(timestamp);

CREATE TABLE IF NOT EXISTS trail_points (
	id        BIGSERIAL PRIMARY KEY,
	flight_id TEXT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	altitude  INTEGER NOT NULL DEFAULT 0,
	timestamp BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trail_points_flight ON trail_points(flight_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_trail_points_timestamp ON trail_points(timestamp);
`

// Postgres is a PostgreSQL-backed flight and trail store with the same
// contract as Store. Writers take a transaction-scoped advisory lock instead
// of an in-process mutex so several ingesters can share one database.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres opens a connection pool to PostgreSQL and creates the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, storageErr("parse postgres config", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storageErr("open postgres", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping postgres", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, storageErr("create schema", err)
	}

	return &Postgres{pool: pool, now: time.Now}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) cutoff(maxAge time.Duration) int64 {
	return p.now().Add(-maxAge).UnixMilli()
}

// withWriteTx runs fn in a transaction holding the writer advisory lock.
func (p *Postgres) withWriteTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return storageErr(op, err)
	}
	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// UpsertOne inserts or fully replaces a flight and appends its trail point.
func (p *Postgres) UpsertOne(ctx context.Context, f flight.Flight) error {
	_, err := p.UpsertBatch(ctx, []flight.Flight{f})
	return err
}

// UpsertBatch upserts all flights in one transaction, appending one trail
// point per flight.
func (p *Postgres) UpsertBatch(ctx context.Context, flights []flight.Flight) (int, error) {
	if len(flights) == 0 {
		return 0, nil
	}

	updatedAt := p.now().UnixMilli()
	err := p.withWriteTx(ctx, "upsert batch", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range flights {
			batch.Queue(`
				INSERT INTO flights (id, callsign, latitude, longitude, altitude, heading, speed,
				                     vertical_rate, on_ground, squawk, timestamp, source, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (id) DO UPDATE SET
					callsign = EXCLUDED.callsign,
					latitude = EXCLUDED.latitude,
					longitude = EXCLUDED.longitude,
					altitude = EXCLUDED.altitude,
					heading = EXCLUDED.heading,
					speed = EXCLUDED.speed,
					vertical_rate = EXCLUDED.vertical_rate,
					on_ground = EXCLUDED.on_ground,
					squawk = EXCLUDED.squawk,
					timestamp = EXCLUDED.timestamp,
					source = EXCLUDED.source,
					updated_at = EXCLUDED.updated_at
			`, f.ID, f.Callsign, f.Latitude, f.Longitude, f.Altitude, f.Heading, f.Speed,
				f.VerticalRate, f.OnGround, f.Squawk, f.Timestamp, f.Source, updatedAt)
			batch.Queue(`
				INSERT INTO trail_points (flight_id, latitude, longitude, altitude, timestamp)
				VALUES ($1, $2, $3, $4, $5)
			`, f.ID, f.Latitude, f.Longitude, f.Altitude, f.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(flights), nil
}

// GetAll returns flights updated within maxAge, ordered by id.
func (p *Postgres) GetAll(ctx context.Context, maxAge time.Duration) ([]flight.Flight, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE updated_at >= $1
		ORDER BY id
	`, p.cutoff(maxAge))
	if err != nil {
		return nil, storageErr("get flights", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToStructByPos[flight.Flight])
	return result, storageErr("get flights", err)
}

// GetSince returns fresh flights reported after since (epoch ms).
func (p *Postgres) GetSince(ctx context.Context, since int64, maxAge time.Duration) ([]flight.Flight, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE updated_at >= $1 AND timestamp > $2
		ORDER BY id
	`, p.cutoff(maxAge), since)
	if err != nil {
		return nil, storageErr("get flights since", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToStructByPos[flight.Flight])
	return result, storageErr("get flights since", err)
}

// GetByID returns the current state of one flight, or ErrNotFound.
func (p *Postgres) GetByID(ctx context.Context, id string) (*flight.Flight, error) {
	f, err := scanFlight(p.pool.QueryRow(ctx, `
		SELECT `+flightColumns+` FROM flights WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get flight", err)
	}
	return &f, nil
}

// Stats returns raw row counts, ignoring staleness.
func (p *Postgres) Stats(ctx context.Context) (flight.Stats, error) {
	var stats flight.Stats
	err := p.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM flights), (SELECT COUNT(*) FROM trail_points)
	`).Scan(&stats.FlightCount, &stats.TrailPointCount)
	return stats, storageErr("stats", err)
}

// AppendPoint appends a trail point for an existing flight.
func (p *Postgres) AppendPoint(ctx context.Context, pt flight.TrailPoint) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trail_points (flight_id, latitude, longitude, altitude, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, pt.FlightID, pt.Latitude, pt.Longitude, pt.Altitude, pt.Timestamp)
	return storageErr("append point", err)
}

// GetTrail returns up to limit of the most recent points for a flight in
// ascending timestamp order.
func (p *Postgres) GetTrail(ctx context.Context, flightID string, limit int) ([]flight.TrailPoint, error) {
	if limit <= 0 {
		limit = flight.DefaultMaxTrailPoints
	}

	rows, err := p.pool.Query(ctx, `
		SELECT flight_id, latitude, longitude, altitude, timestamp
		FROM (
			SELECT id, flight_id, latitude, longitude, altitude, timestamp
			FROM trail_points
			WHERE flight_id = $1
			ORDER BY timestamp DESC, id DESC
			LIMIT $2
		) AS recent
		ORDER BY timestamp ASC, id ASC
	`, flightID, limit)
	if err != nil {
		return nil, storageErr("get trail", err)
	}
	points, err := pgx.CollectRows(rows, pgx.RowToStructByPos[flight.TrailPoint])
	if err != nil {
		return nil, storageErr("get trail", err)
	}
	return points, nil
}

// GetAllTrails returns the most recent maxPoints points of every fresh
// flight, keyed by flight id. Flights with no points are omitted.
func (p *Postgres) GetAllTrails(ctx context.Context, maxAge time.Duration, maxPoints int) (map[string][]flight.TrailPoint, error) {
	if maxPoints <= 0 {
		maxPoints = flight.DefaultMaxTrailPoints
	}

	rows, err := p.pool.Query(ctx, `
		SELECT flight_id, latitude, longitude, altitude, timestamp
		FROM (
			SELECT t.id, t.flight_id, t.latitude, t.longitude, t.altitude, t.timestamp,
			       ROW_NUMBER() OVER (PARTITION BY t.flight_id ORDER BY t.timestamp DESC, t.id DESC) AS rn
			FROM trail_points t
			JOIN flights f ON f.id = t.flight_id
			WHERE f.updated_at >= $1
		) AS ranked
		WHERE rn <= $2
		ORDER BY flight_id, timestamp ASC, id ASC
	`, p.cutoff(maxAge), maxPoints)
	if err != nil {
		return nil, storageErr("get all trails", err)
	}
	points, err := pgx.CollectRows(rows, pgx.RowToStructByPos[flight.TrailPoint])
	if err != nil {
		return nil, storageErr("get all trails", err)
	}
	return groupTrails(points), nil
}

// Sweep applies the retention policy in one transaction.
func (p *Postgres) Sweep(ctx context.Context, maxAge time.Duration, maxTrailPoints int) (flight.SweepResult, error) {
	if maxTrailPoints <= 0 {
		maxTrailPoints = flight.DefaultMaxTrailPoints
	}

	var result flight.SweepResult
	cutoff := p.cutoff(maxAge)

	err := p.withWriteTx(ctx, "sweep", func(tx pgx.Tx) error {
		var before, after int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM trail_points`).Scan(&before); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM flights WHERE updated_at < $1`, cutoff)
		if err != nil {
			return err
		}
		result.PrunedFlights = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `
			DELETE FROM trail_points
			WHERE flight_id NOT IN (SELECT id FROM flights)
		`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM trail_points
			WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY flight_id ORDER BY timestamp DESC, id DESC) AS rn
					FROM trail_points
				) AS ranked
				WHERE rn > $1
			)
		`, maxTrailPoints); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM trail_points`).Scan(&after); err != nil {
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
