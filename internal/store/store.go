// Package store persists the live state of the system: one row per vehicle,
// continuously overwritten, and expiring arrival predictions. It is backed by
// SQLite so the pull API can query it without holding the poll cycle's locks.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Open opens (or creates) the realtime database at path and ensures the
// schema exists. Use ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS vehicle_positions (
	vehicle_id       TEXT PRIMARY KEY,
	trip_id          TEXT,
	route_id         TEXT,
	latitude         REAL,
	longitude        REAL,
	bearing          REAL,
	speed            REAL,
	current_status   INTEGER,
	congestion_level INTEGER,
	occupancy_status INTEGER,
	last_stop_id     TEXT,
	observed_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vehicle_positions_route_id ON vehicle_positions(route_id);
CREATE INDEX IF NOT EXISTS idx_vehicle_positions_observed_at ON vehicle_positions(observed_at);

CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	stop_id             TEXT NOT NULL,
	route_id            TEXT NOT NULL,
	trip_id             TEXT NOT NULL,
	vehicle_id          TEXT,
	stop_sequence       INTEGER,
	headsign            TEXT,
	predicted_arrival   INTEGER,
	predicted_departure INTEGER,
	scheduled_arrival   INTEGER,
	scheduled_departure INTEGER,
	delay_seconds       INTEGER NOT NULL DEFAULT 0,
	confidence          REAL NOT NULL DEFAULT 0,
	source              TEXT NOT NULL,
	status              TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	expires_at          INTEGER NOT NULL,
	UNIQUE (stop_id, trip_id)
);

CREATE INDEX IF NOT EXISTS idx_predictions_stop_id ON predictions(stop_id);
CREATE INDEX IF NOT EXISTS idx_predictions_route_id ON predictions(route_id);
CREATE INDEX IF NOT EXISTS idx_predictions_vehicle_id ON predictions(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_predictions_expires_at ON predictions(expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("error creating tables: %w", err)
	}
	return nil
}
