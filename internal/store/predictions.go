package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Prediction source values, in descending order of trust.
const (
	SourceGTFSRT          = "gtfs_rt"
	SourceVehiclePosition = "vehicle_position"
	SourceSchedule        = "schedule"
)

// Prediction status values.
const (
	StatusPassed  = "passed"
	StatusDelayed = "delayed"
	StatusEarly   = "early"
	StatusOnTime  = "on_time"
	StatusNoData  = "no_data"
)

// Prediction is one computed arrival/departure estimate for a (stop, trip)
// pair. Each fusion cycle supersedes the previous prediction for the same
// pair; rows disappear once expires_at passes.
type Prediction struct {
	ID                 string
	StopID             string
	RouteID            string
	TripID             string
	VehicleID          *string
	StopSequence       *int
	Headsign           *string
	PredictedArrival   *time.Time
	PredictedDeparture *time.Time
	ScheduledArrival   *time.Time
	ScheduledDeparture *time.Time
	DelaySeconds       int
	Confidence         float64
	Source             string
	Status             string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// Stats summarizes the active prediction set for the stats endpoint.
type Stats struct {
	TotalPredictions  int            `json:"total_predictions"`
	RealTime          int            `json:"real_time_predictions"`
	AverageConfidence float64        `json:"average_confidence"`
	BySource          map[string]int `json:"prediction_sources"`
}

// PredictionStore persists computed predictions for the pull API.
type PredictionStore struct {
	db *sql.DB
}

func NewPredictionStore(db *sql.DB) *PredictionStore {
	return &PredictionStore{db: db}
}

const predictionColumns = `id, stop_id, route_id, trip_id, vehicle_id, stop_sequence, headsign,
	predicted_arrival, predicted_departure, scheduled_arrival, scheduled_departure,
	delay_seconds, confidence, source, status, created_at, expires_at`

// Upsert writes one prediction, superseding any active prediction for the
// same (stop_id, trip_id). Duplicates never accumulate across cycles.
func (s *PredictionStore) Upsert(ctx context.Context, p Prediction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	const query = `
INSERT INTO predictions (` + predictionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (stop_id, trip_id) DO UPDATE SET
	route_id = excluded.route_id,
	vehicle_id = excluded.vehicle_id,
	stop_sequence = excluded.stop_sequence,
	headsign = excluded.headsign,
	predicted_arrival = excluded.predicted_arrival,
	predicted_departure = excluded.predicted_departure,
	scheduled_arrival = excluded.scheduled_arrival,
	scheduled_departure = excluded.scheduled_departure,
	delay_seconds = excluded.delay_seconds,
	confidence = excluded.confidence,
	source = excluded.source,
	status = excluded.status,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.StopID, p.RouteID, p.TripID, p.VehicleID, p.StopSequence, p.Headsign,
		unixOrNil(p.PredictedArrival), unixOrNil(p.PredictedDeparture),
		unixOrNil(p.ScheduledArrival), unixOrNil(p.ScheduledDeparture),
		p.DelaySeconds, p.Confidence, p.Source, p.Status,
		p.CreatedAt.Unix(), p.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting prediction for stop %s trip %s: %w", p.StopID, p.TripID, err)
	}
	return nil
}

// UpsertBatch writes one fusion cycle's predictions in a single transaction.
func (s *PredictionStore) UpsertBatch(ctx context.Context, predictions []Prediction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning prediction batch: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	for i := range predictions {
		p := predictions[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}

		const query = `
INSERT INTO predictions (` + predictionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (stop_id, trip_id) DO UPDATE SET
	route_id = excluded.route_id,
	vehicle_id = excluded.vehicle_id,
	stop_sequence = excluded.stop_sequence,
	headsign = excluded.headsign,
	predicted_arrival = excluded.predicted_arrival,
	predicted_departure = excluded.predicted_departure,
	scheduled_arrival = excluded.scheduled_arrival,
	scheduled_departure = excluded.scheduled_departure,
	delay_seconds = excluded.delay_seconds,
	confidence = excluded.confidence,
	source = excluded.source,
	status = excluded.status,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at`

		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.StopID, p.RouteID, p.TripID, p.VehicleID, p.StopSequence, p.Headsign,
			unixOrNil(p.PredictedArrival), unixOrNil(p.PredictedDeparture),
			unixOrNil(p.ScheduledArrival), unixOrNil(p.ScheduledDeparture),
			p.DelaySeconds, p.Confidence, p.Source, p.Status,
			p.CreatedAt.Unix(), p.ExpiresAt.Unix()); err != nil {
			return fmt.Errorf("upserting prediction for stop %s trip %s: %w", p.StopID, p.TripID, err)
		}
	}

	return tx.Commit()
}

// ActiveForStop returns unexpired predictions for a stop ordered by predicted
// arrival, optionally filtered to one route.
func (s *PredictionStore) ActiveForStop(ctx context.Context, stopID, routeID string, limit int) ([]Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions
WHERE stop_id = ? AND expires_at > ?`
	args := []any{stopID, time.Now().Unix()}

	if routeID != "" {
		query += ` AND route_id = ?`
		args = append(args, routeID)
	}
	query += ` ORDER BY predicted_arrival LIMIT ?`
	args = append(args, limit)

	return s.queryPredictions(ctx, query, args...)
}

// ActiveForRoute returns unexpired predictions for every stop on a route.
func (s *PredictionStore) ActiveForRoute(ctx context.Context, routeID string, limit int) ([]Prediction, error) {
	const query = `SELECT ` + predictionColumns + ` FROM predictions
WHERE route_id = ? AND expires_at > ?
ORDER BY stop_id, predicted_arrival LIMIT ?`
	return s.queryPredictions(ctx, query, routeID, time.Now().Unix(), limit)
}

// ActiveForVehicle returns unexpired predictions for the stops a vehicle
// will visit.
func (s *PredictionStore) ActiveForVehicle(ctx context.Context, vehicleID string) ([]Prediction, error) {
	const query = `SELECT ` + predictionColumns + ` FROM predictions
WHERE vehicle_id = ? AND expires_at > ?
ORDER BY predicted_arrival`
	return s.queryPredictions(ctx, query, vehicleID, time.Now().Unix())
}

// DeleteExpired removes predictions whose expiry has passed and reports how
// many were removed.
func (s *PredictionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("deleting expired predictions: %w", err)
	}
	return result.RowsAffected()
}

// ActiveStats aggregates the unexpired prediction set, optionally scoped to
// one route.
func (s *PredictionStore) ActiveStats(ctx context.Context, routeID string) (Stats, error) {
	query := `SELECT source, COUNT(*), AVG(confidence) FROM predictions WHERE expires_at > ?`
	args := []any{time.Now().Unix()}
	if routeID != "" {
		query += ` AND route_id = ?`
		args = append(args, routeID)
	}
	query += ` GROUP BY source`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("querying prediction stats: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	stats := Stats{BySource: make(map[string]int)}
	weightedConfidence := 0.0

	for rows.Next() {
		var source string
		var count int
		var avgConfidence float64
		if err := rows.Scan(&source, &count, &avgConfidence); err != nil {
			return Stats{}, err
		}

		stats.BySource[source] = count
		stats.TotalPredictions += count
		weightedConfidence += avgConfidence * float64(count)
		if source != SourceSchedule {
			stats.RealTime += count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	if stats.TotalPredictions > 0 {
		stats.AverageConfidence = weightedConfidence / float64(stats.TotalPredictions)
	}
	return stats, nil
}

func (s *PredictionStore) queryPredictions(ctx context.Context, query string, args ...any) ([]Prediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	var predictions []Prediction
	for rows.Next() {
		var p Prediction
		var predictedArrival, predictedDeparture, scheduledArrival, scheduledDeparture sql.NullInt64
		var createdAt, expiresAt int64

		err := rows.Scan(&p.ID, &p.StopID, &p.RouteID, &p.TripID, &p.VehicleID,
			&p.StopSequence, &p.Headsign,
			&predictedArrival, &predictedDeparture, &scheduledArrival, &scheduledDeparture,
			&p.DelaySeconds, &p.Confidence, &p.Source, &p.Status, &createdAt, &expiresAt)
		if err != nil {
			return nil, err
		}

		p.PredictedArrival = timeOrNil(predictedArrival)
		p.PredictedDeparture = timeOrNil(predictedDeparture)
		p.ScheduledArrival = timeOrNil(scheduledArrival)
		p.ScheduledDeparture = timeOrNil(scheduledDeparture)
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.ExpiresAt = time.Unix(expiresAt, 0).UTC()

		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
