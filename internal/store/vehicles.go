package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// VehicleStore holds the latest observation per vehicle. Each upsert fully
// replaces the prior row; the newest observed_at always wins. There is no
// history beyond a rolling retention window.
type VehicleStore struct {
	db *sql.DB
}

func NewVehicleStore(db *sql.DB) *VehicleStore {
	return &VehicleStore{db: db}
}

const vehicleColumns = `vehicle_id, trip_id, route_id, latitude, longitude, bearing, speed,
	current_status, congestion_level, occupancy_status, last_stop_id, observed_at`

// Upsert writes one observation, replacing any prior row for the same
// vehicle_id. A stale observation (older observed_at than the stored row)
// is dropped, so out-of-order polls converge on the newest data.
func (s *VehicleStore) Upsert(ctx context.Context, v gtfsrt.VehiclePosition) error {
	const query = `
INSERT INTO vehicle_positions (` + vehicleColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (vehicle_id) DO UPDATE SET
	trip_id = excluded.trip_id,
	route_id = excluded.route_id,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	bearing = excluded.bearing,
	speed = excluded.speed,
	current_status = excluded.current_status,
	congestion_level = excluded.congestion_level,
	occupancy_status = excluded.occupancy_status,
	last_stop_id = excluded.last_stop_id,
	observed_at = excluded.observed_at
WHERE excluded.observed_at >= vehicle_positions.observed_at`

	_, err := s.db.ExecContext(ctx, query,
		v.VehicleID, v.TripID, v.RouteID, v.Latitude, v.Longitude, v.Bearing, v.Speed,
		v.CurrentStatus, v.CongestionLevel, v.OccupancyStatus, v.LastStopID, v.ObservedAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting vehicle %s: %w", v.VehicleID, err)
	}
	return nil
}

// UpsertBatch writes a poll cycle's observations in one transaction so
// readers never observe a partially-applied cycle.
func (s *VehicleStore) UpsertBatch(ctx context.Context, vehicles []gtfsrt.VehiclePosition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning vehicle batch: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	const query = `
INSERT INTO vehicle_positions (` + vehicleColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (vehicle_id) DO UPDATE SET
	trip_id = excluded.trip_id,
	route_id = excluded.route_id,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	bearing = excluded.bearing,
	speed = excluded.speed,
	current_status = excluded.current_status,
	congestion_level = excluded.congestion_level,
	occupancy_status = excluded.occupancy_status,
	last_stop_id = excluded.last_stop_id,
	observed_at = excluded.observed_at
WHERE excluded.observed_at >= vehicle_positions.observed_at`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing vehicle upsert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck

	for _, v := range vehicles {
		if _, err := stmt.ExecContext(ctx,
			v.VehicleID, v.TripID, v.RouteID, v.Latitude, v.Longitude, v.Bearing, v.Speed,
			v.CurrentStatus, v.CongestionLevel, v.OccupancyStatus, v.LastStopID, v.ObservedAt.Unix()); err != nil {
			return fmt.Errorf("upserting vehicle %s: %w", v.VehicleID, err)
		}
	}

	return tx.Commit()
}

// All returns every stored vehicle, newest first.
func (s *VehicleStore) All(ctx context.Context) ([]gtfsrt.VehiclePosition, error) {
	const query = `SELECT ` + vehicleColumns + ` FROM vehicle_positions ORDER BY observed_at DESC`
	return s.queryVehicles(ctx, query)
}

// ByID returns the row for one vehicle, or ErrNotFound.
func (s *VehicleStore) ByID(ctx context.Context, vehicleID string) (gtfsrt.VehiclePosition, error) {
	const query = `SELECT ` + vehicleColumns + ` FROM vehicle_positions WHERE vehicle_id = ?`

	row := s.db.QueryRowContext(ctx, query, vehicleID)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfsrt.VehiclePosition{}, ErrNotFound
	}
	return v, err
}

// ByRoute returns all vehicles currently assigned to the given route.
func (s *VehicleStore) ByRoute(ctx context.Context, routeID string) ([]gtfsrt.VehiclePosition, error) {
	const query = `SELECT ` + vehicleColumns + ` FROM vehicle_positions
WHERE route_id = ? ORDER BY observed_at DESC`
	return s.queryVehicles(ctx, query, routeID)
}

// ActiveSince returns vehicles observed within the given window.
func (s *VehicleStore) ActiveSince(ctx context.Context, window time.Duration) ([]gtfsrt.VehiclePosition, error) {
	cutoff := time.Now().Add(-window).Unix()
	const query = `SELECT ` + vehicleColumns + ` FROM vehicle_positions
WHERE observed_at >= ? ORDER BY observed_at DESC`
	return s.queryVehicles(ctx, query, cutoff)
}

// PurgeOlderThan removes rows whose observation is older than the retention
// window and reports how many were removed. Retention is independent of
// overwrite logic: a vehicle that stops reporting ages out on its own.
func (s *VehicleStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM vehicle_positions WHERE observed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging vehicle positions: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored vehicles.
func (s *VehicleStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicle_positions`).Scan(&n)
	return n, err
}

func (s *VehicleStore) queryVehicles(ctx context.Context, query string, args ...any) ([]gtfsrt.VehiclePosition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vehicle positions: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	var vehicles []gtfsrt.VehiclePosition
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (gtfsrt.VehiclePosition, error) {
	var v gtfsrt.VehiclePosition
	var observedAt int64

	err := row.Scan(&v.VehicleID, &v.TripID, &v.RouteID, &v.Latitude, &v.Longitude,
		&v.Bearing, &v.Speed, &v.CurrentStatus, &v.CongestionLevel, &v.OccupancyStatus,
		&v.LastStopID, &observedAt)
	if err != nil {
		return gtfsrt.VehiclePosition{}, err
	}

	v.ObservedAt = time.Unix(observedAt, 0).UTC()
	return v, nil
}
