package store

// schema contains the SQLite table definitions for flight state and trails.
const schema = `
-- Current flight state, one row per aircraft.
CREATE TABLE IF NOT EXISTS flights (
	id            TEXT PRIMARY KEY CHECK (length(id) > 0),
	callsign      TEXT NOT NULL,
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	altitude      INTEGER NOT NULL DEFAULT 0,
	heading       REAL NOT NULL DEFAULT 0,
	speed         INTEGER NOT NULL DEFAULT 0,
	vertical_rate INTEGER NOT NULL DEFAULT 0,
	on_ground     INTEGER NOT NULL DEFAULT 0,
	squawk        TEXT NOT NULL DEFAULT '',
	timestamp     INTEGER NOT NULL,  -- Upstream report time, epoch ms.
	source        TEXT NOT NULL,
	updated_at    INTEGER NOT NULL   -- Local upsert time, epoch ms.
);

CREATE INDEX IF NOT EXISTS idx_flights_updated_at ON flights(updated_at);
CREATE INDEX IF NOT EXISTS idx_flights_timestamp ON flights(timestamp);

-- Position history, append-only. Capped per flight by the retention sweep.
CREATE TABLE IF NOT EXISTS trail_points (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	flight_id TEXT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	altitude  INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trail_points_flight ON trail_points(flight_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_trail_points_timestamp ON trail_points(timestamp);
`
