// Package store persists current flight state and bounded position trails.
//
// The SQLite store is the primary backend. Postgres offers the same
// contract for shared deployments, and ClickHouse can archive every
// observed position for analytics.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"flight_tracker/internal/flight"
)

// ErrNotFound is returned when a flight lookup has no match.
var ErrNotFound = errors.New("flight not found")

// ErrStorage matches any *StorageError.
var ErrStorage = errors.New("storage error")

// StorageError wraps a failure to open, write or query persistent storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store is a SQLite-backed flight and trail store.
//
// Writers (upserts and sweeps) hold the write lock for the duration of their
// transaction, so a sweep never interleaves with a batch upsert. Readers
// share the read lock and see a consistent snapshot.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// Open opens or creates a SQLite database at path. An empty path or
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	}

	params := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)"}
	if !memory {
		// WAL lets readers proceed while a writer commits.
		params = append(params, "_pragma=journal_mode(WAL)")
	}

	db, err := sql.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// Each connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	// Initialise the schema.
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, storageErr("create schema", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// cutoff returns the oldest updated_at (epoch ms) still considered fresh.
func (s *Store) cutoff(maxAge time.Duration) int64 {
	return s.now().Add(-maxAge).UnixMilli()
}

// withTx runs fn in a transaction, committing on success and rolling back on
// any error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

const flightColumns = `id, callsign, latitude, longitude, altitude, heading, speed,
	vertical_rate, on_ground, squawk, timestamp, source, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFlight(row scanner) (flight.Flight, error) {
	var f flight.Flight
	err := row.Scan(
		&f.ID, &f.Callsign, &f.Latitude, &f.Longitude, &f.Altitude, &f.Heading, &f.Speed,
		&f.VerticalRate, &f.OnGround, &f.Squawk, &f.Timestamp, &f.Source, &f.UpdatedAt,
	)
	return f, err
}

func scanFlights(rows *sql.Rows) ([]flight.Flight, error) {
	defer func() { _ = rows.Close() }()

	result := make([]flight.Flight, 0)
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
