package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flight_tracker/internal/flight"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Enabled reports whether a host has been configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// Archive keeps every observed position in ClickHouse. Unlike the trail
// store it is never swept, so it holds the full history for analytics.
type Archive struct {
	conn driver.Conn
}

// OpenArchive opens a connection to ClickHouse and creates the positions
// table.
func OpenArchive(ctx context.Context, cfg ClickHouseConfig) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, storageErr("open clickhouse", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping clickhouse", err)
	}

	err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS flight_positions (
			flight_id     LowCardinality(String),
			callsign      LowCardinality(String),
			source        LowCardinality(String),
			latitude      Float64,
			longitude     Float64,
			altitude      Int32,
			heading       Float32,
			speed         Int32,
			vertical_rate Int32,
			on_ground     Bool,
			squawk        String,
			timestamp     DateTime64(3),
			ingested_at   DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (flight_id, timestamp)
	`)
	if err != nil {
		_ = conn.Close()
		return nil, storageErr("create archive schema", err)
	}

	return &Archive{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (a *Archive) Close() error {
	return a.conn.Close()
}

// ArchivePositions appends one row per flight state.
func (a *Archive) ArchivePositions(ctx context.Context, flights []flight.Flight) error {
	if len(flights) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO flight_positions (flight_id, callsign, source, latitude, longitude, altitude,
		                              heading, speed, vertical_rate, on_ground, squawk, timestamp)
	`)
	if err != nil {
		return storageErr("prepare archive batch", err)
	}

	for _, f := range flights {
		err := batch.Append(
			f.ID, f.Callsign, f.Source, f.Latitude, f.Longitude, int32(f.Altitude),
			float32(f.Heading), int32(f.Speed), int32(f.VerticalRate), f.OnGround, f.Squawk,
			f.ReportTime(),
		)
		if err != nil {
			_ = batch.Abort()
			return storageErr("append archive row", err)
		}
	}

	if err := batch.Send(); err != nil {
		return storageErr("send archive batch", err)
	}
	return nil
}

// History returns archived positions of a flight reported in [from, to),
// oldest first.
func (a *Archive) History(ctx context.Context, flightID string, from, to time.Time) ([]flight.TrailPoint, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT latitude, longitude, altitude, timestamp
		FROM flight_positions
		WHERE flight_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, flightID, from, to)
	if err != nil {
		return nil, storageErr("query archive", err)
	}
	defer func() { _ = rows.Close() }()

	points := make([]flight.TrailPoint, 0)
	for rows.Next() {
		var (
			lat, lon float64
			alt      int32
			ts       time.Time
		)
		if err := rows.Scan(&lat, &lon, &alt, &ts); err != nil {
			return nil, storageErr("scan archive", err)
		}
		points = append(points, flight.TrailPoint{
			FlightID:  flightID,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  int(alt),
			Timestamp: ts.UnixMilli(),
		})
	}
	return points, storageErr("query archive", rows.Err())
}
