// Package fusion turns raw realtime observations and the static schedule into
// per-stop arrival predictions. Each trip is predicted from the best source
// available for it: trip update feed data first, then an estimate from the
// vehicle's live position, then the bare schedule.
package fusion

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/static"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
	"github.com/Johnsingh007-ui/transitpulse/internal/transittime"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

// Config holds the fusion thresholds. Zero values are replaced by defaults.
type Config struct {
	// ArrivingRadiusMeters is how close a vehicle must be to its next stop
	// to be treated as arriving now.
	ArrivingRadiusMeters float64
	// FallbackSpeedMps is used when a vehicle reports no usable speed.
	FallbackSpeedMps float64
	// DelayedThresholdSeconds marks a prediction "delayed" above it.
	DelayedThresholdSeconds int
	// EarlyThresholdSeconds marks a prediction "early" below it (negative).
	EarlyThresholdSeconds int

	TripUpdateExpiry time.Duration
	VehicleExpiry    time.Duration
	ScheduleExpiry   time.Duration
}

// DefaultConfig returns the standard thresholds: 500m arriving radius, 25km/h
// fallback speed, delayed past +300s, early past -180s.
func DefaultConfig() Config {
	return Config{
		ArrivingRadiusMeters:    500,
		FallbackSpeedMps:        25.0 / 3.6,
		DelayedThresholdSeconds: 300,
		EarlyThresholdSeconds:   -180,
		TripUpdateExpiry:        10 * time.Minute,
		VehicleExpiry:           15 * time.Minute,
		ScheduleExpiry:          30 * time.Minute,
	}
}

// Schedule is the subset of the static schedule the engine reads.
type Schedule interface {
	TripStopTimes(tripID string) ([]static.StopTime, error)
	StopCoordinates(stopID string) (lat, lon float64, ok bool)
	RouteForTrip(tripID string) string
	Timezone() *time.Location
}

// Engine computes predictions for every trip the realtime feeds mention.
type Engine struct {
	schedule Schedule
	cfg      Config
	logger   *slog.Logger
}

func NewEngine(schedule Schedule, cfg Config, logger *slog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.ArrivingRadiusMeters == 0 {
		cfg.ArrivingRadiusMeters = defaults.ArrivingRadiusMeters
	}
	if cfg.FallbackSpeedMps == 0 {
		cfg.FallbackSpeedMps = defaults.FallbackSpeedMps
	}
	if cfg.DelayedThresholdSeconds == 0 {
		cfg.DelayedThresholdSeconds = defaults.DelayedThresholdSeconds
	}
	if cfg.EarlyThresholdSeconds == 0 {
		cfg.EarlyThresholdSeconds = defaults.EarlyThresholdSeconds
	}
	if cfg.TripUpdateExpiry == 0 {
		cfg.TripUpdateExpiry = defaults.TripUpdateExpiry
	}
	if cfg.VehicleExpiry == 0 {
		cfg.VehicleExpiry = defaults.VehicleExpiry
	}
	if cfg.ScheduleExpiry == 0 {
		cfg.ScheduleExpiry = defaults.ScheduleExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{schedule: schedule, cfg: cfg, logger: logger}
}

// Compute fuses one poll cycle's vehicles and trip updates into predictions.
// A trip that cannot be predicted is skipped without affecting the others.
func (e *Engine) Compute(now time.Time, vehicles []gtfsrt.VehiclePosition, updates []gtfsrt.TripUpdate) []store.Prediction {
	vehicleByTrip := make(map[string]*gtfsrt.VehiclePosition)
	for i := range vehicles {
		if vehicles[i].TripID != nil && *vehicles[i].TripID != "" {
			vehicleByTrip[*vehicles[i].TripID] = &vehicles[i]
		}
	}
	updateByTrip := make(map[string]*gtfsrt.TripUpdate, len(updates))
	for i := range updates {
		updateByTrip[updates[i].TripID] = &updates[i]
	}

	tripIDs := make([]string, 0, len(vehicleByTrip)+len(updateByTrip))
	seen := make(map[string]bool)
	for i := range vehicles {
		if vehicles[i].TripID == nil {
			continue
		}
		if id := *vehicles[i].TripID; id != "" && !seen[id] {
			seen[id] = true
			tripIDs = append(tripIDs, id)
		}
	}
	for i := range updates {
		if id := updates[i].TripID; !seen[id] {
			seen[id] = true
			tripIDs = append(tripIDs, id)
		}
	}

	var predictions []store.Prediction
	for _, tripID := range tripIDs {
		tripPredictions, err := e.computeTrip(now, tripID, vehicleByTrip[tripID], updateByTrip[tripID])
		if err != nil {
			e.logger.Debug("skipping trip",
				slog.String("trip_id", tripID),
				slog.String("reason", err.Error()))
			continue
		}
		predictions = append(predictions, tripPredictions...)
	}
	return predictions
}

func (e *Engine) computeTrip(now time.Time, tripID string, vehicle *gtfsrt.VehiclePosition, update *gtfsrt.TripUpdate) ([]store.Prediction, error) {
	stopTimes, err := e.schedule.TripStopTimes(tripID)
	if err != nil {
		// A trip update can still predict stops for a trip the schedule
		// does not know, as long as it carries absolute times.
		if update != nil {
			return e.predictUnscheduledTrip(now, tripID, vehicle, update), nil
		}
		return nil, err
	}
	if len(stopTimes) == 0 {
		return nil, fmt.Errorf("trip %s has no stop times", tripID)
	}

	routeID := e.routeForTrip(tripID, vehicle, update)
	tz := e.schedule.Timezone()
	stusByStop := indexStopTimeUpdates(update)
	nextIdx := e.nextStopIndex(stopTimes, vehicle)

	var predictions []store.Prediction
	for i, st := range stopTimes {
		scheduled := transittime.ServiceDaySeconds(st.ArrivalSeconds, now, tz)
		scheduledDeparture := transittime.ServiceDaySeconds(st.DepartureSeconds, now, tz)

		p := store.Prediction{
			StopID:             st.StopID,
			RouteID:            routeID,
			TripID:             tripID,
			ScheduledArrival:   &scheduled,
			ScheduledDeparture: &scheduledDeparture,
			CreatedAt:          now,
		}
		if st.Headsign != "" {
			headsign := st.Headsign
			p.Headsign = &headsign
		}
		seq := st.StopSequence
		p.StopSequence = &seq
		if vehicle != nil {
			vehicleID := vehicle.VehicleID
			p.VehicleID = &vehicleID
		}

		switch {
		case stusByStop[st.StopID] != nil:
			e.applyTripUpdate(&p, now, tz, stusByStop[st.StopID], update, scheduled, scheduledDeparture)
		case vehicle != nil && vehicle.Latitude != nil && vehicle.Longitude != nil && i >= nextIdx:
			e.applyVehicleEstimate(&p, now, vehicle, stopTimes, nextIdx, i, scheduled)
		default:
			p.Source = store.SourceSchedule
			p.Confidence = 0.5
			p.PredictedArrival = &scheduled
			p.PredictedDeparture = &scheduledDeparture
			p.ExpiresAt = now.Add(e.cfg.ScheduleExpiry)
		}

		e.finalize(&p, now)
		predictions = append(predictions, p)
	}
	return predictions, nil
}

// predictUnscheduledTrip handles trips the static feed does not carry. Only
// stop time updates with absolute times can be used; there is no schedule to
// add a delay to.
func (e *Engine) predictUnscheduledTrip(now time.Time, tripID string, vehicle *gtfsrt.VehiclePosition, update *gtfsrt.TripUpdate) []store.Prediction {
	routeID := e.routeForTrip(tripID, vehicle, update)
	tz := e.schedule.Timezone()

	var predictions []store.Prediction
	for i := range update.StopTimeUpdates {
		stu := &update.StopTimeUpdates[i]
		if stu.ArrivalTime == nil && stu.DepartureTime == nil {
			continue
		}

		p := store.Prediction{
			StopID:     stu.StopID,
			RouteID:    routeID,
			TripID:     tripID,
			Source:     store.SourceGTFSRT,
			Confidence: 0.95,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.cfg.TripUpdateExpiry),
		}
		if stu.StopSequence != nil {
			seq := *stu.StopSequence
			p.StopSequence = &seq
		}
		if vehicle != nil {
			vehicleID := vehicle.VehicleID
			p.VehicleID = &vehicleID
		}
		if stu.ArrivalTime != nil {
			arrival := transittime.NormalizeOrZero(*stu.ArrivalTime, now, tz)
			if !arrival.IsZero() {
				p.PredictedArrival = &arrival
			}
		}
		if stu.DepartureTime != nil {
			departure := transittime.NormalizeOrZero(*stu.DepartureTime, now, tz)
			if !departure.IsZero() {
				p.PredictedDeparture = &departure
			}
		}
		if stu.ArrivalDelay != nil {
			p.DelaySeconds = *stu.ArrivalDelay
		}

		e.finalize(&p, now)
		predictions = append(predictions, p)
	}
	return predictions
}

func (e *Engine) applyTripUpdate(p *store.Prediction, now time.Time, tz *time.Location, stu *gtfsrt.StopTimeUpdate, update *gtfsrt.TripUpdate, scheduled, scheduledDeparture time.Time) {
	p.Source = store.SourceGTFSRT
	p.Confidence = 0.95
	p.ExpiresAt = now.Add(e.cfg.TripUpdateExpiry)

	switch {
	case stu.ArrivalTime != nil:
		arrival := transittime.NormalizeOrZero(*stu.ArrivalTime, now, tz)
		if !arrival.IsZero() {
			p.PredictedArrival = &arrival
		}
	case stu.ArrivalDelay != nil:
		arrival := scheduled.Add(time.Duration(*stu.ArrivalDelay) * time.Second)
		p.PredictedArrival = &arrival
	case update.DelaySeconds != nil:
		arrival := scheduled.Add(time.Duration(*update.DelaySeconds) * time.Second)
		p.PredictedArrival = &arrival
	default:
		p.PredictedArrival = &scheduled
	}

	switch {
	case stu.DepartureTime != nil:
		departure := transittime.NormalizeOrZero(*stu.DepartureTime, now, tz)
		if !departure.IsZero() {
			p.PredictedDeparture = &departure
		}
	case stu.DepartureDelay != nil:
		departure := scheduledDeparture.Add(time.Duration(*stu.DepartureDelay) * time.Second)
		p.PredictedDeparture = &departure
	}
}

// applyVehicleEstimate predicts an arrival by riding the vehicle along the
// remaining stop chain at its reported speed.
func (e *Engine) applyVehicleEstimate(p *store.Prediction, now time.Time, vehicle *gtfsrt.VehiclePosition, stopTimes []static.StopTime, nextIdx, stopIdx int, scheduled time.Time) {
	p.Source = store.SourceVehiclePosition
	p.Confidence = 0.7
	p.ExpiresAt = now.Add(e.cfg.VehicleExpiry)

	distance, ok := e.distanceAlongStops(vehicle, stopTimes, nextIdx, stopIdx)
	if !ok {
		// No coordinates to estimate against; the schedule time stands.
		p.Source = store.SourceSchedule
		p.Confidence = 0.5
		p.PredictedArrival = &scheduled
		p.ExpiresAt = now.Add(e.cfg.ScheduleExpiry)
		return
	}

	if stopIdx == nextIdx && distance <= e.cfg.ArrivingRadiusMeters {
		arrival := now
		p.PredictedArrival = &arrival
		return
	}

	speed := e.cfg.FallbackSpeedMps
	if vehicle.Speed != nil && *vehicle.Speed > 1.0 {
		speed = *vehicle.Speed
	}

	arrival := now.Add(time.Duration(distance/speed) * time.Second)
	p.PredictedArrival = &arrival
}

// distanceAlongStops sums the vehicle's distance to its next stop plus every
// stop-to-stop leg up to the target stop.
func (e *Engine) distanceAlongStops(vehicle *gtfsrt.VehiclePosition, stopTimes []static.StopTime, nextIdx, stopIdx int) (float64, bool) {
	lat, lon, ok := e.schedule.StopCoordinates(stopTimes[nextIdx].StopID)
	if !ok {
		return 0, false
	}
	total := utils.Haversine(*vehicle.Latitude, *vehicle.Longitude, lat, lon)

	prevLat, prevLon := lat, lon
	for i := nextIdx + 1; i <= stopIdx; i++ {
		lat, lon, ok := e.schedule.StopCoordinates(stopTimes[i].StopID)
		if !ok {
			return 0, false
		}
		total += utils.Haversine(prevLat, prevLon, lat, lon)
		prevLat, prevLon = lat, lon
	}
	return total, true
}

// nextStopIndex finds the first stop the vehicle has not yet completed. The
// feed's stop reference names the stop current_status applies to, so a
// vehicle stopped at or in transit to a stop still owes a prediction for it.
func (e *Engine) nextStopIndex(stopTimes []static.StopTime, vehicle *gtfsrt.VehiclePosition) int {
	if vehicle == nil || vehicle.LastStopID == nil {
		return 0
	}
	for i, st := range stopTimes {
		if st.StopID == *vehicle.LastStopID {
			return i
		}
	}
	return 0
}

func (e *Engine) finalize(p *store.Prediction, now time.Time) {
	if p.PredictedArrival == nil && p.PredictedDeparture != nil {
		p.PredictedArrival = p.PredictedDeparture
	}

	if p.PredictedArrival == nil || p.ScheduledArrival == nil {
		if p.DelaySeconds > e.cfg.DelayedThresholdSeconds {
			p.Status = store.StatusDelayed
		} else if p.DelaySeconds < e.cfg.EarlyThresholdSeconds {
			p.Status = store.StatusEarly
		} else if p.PredictedArrival != nil {
			p.Status = store.StatusOnTime
		} else {
			p.Status = store.StatusNoData
		}
		return
	}

	p.DelaySeconds = int(p.PredictedArrival.Sub(*p.ScheduledArrival) / time.Second)

	switch {
	case !p.PredictedArrival.After(now):
		p.Status = store.StatusPassed
	case p.DelaySeconds > e.cfg.DelayedThresholdSeconds:
		p.Status = store.StatusDelayed
	case p.DelaySeconds < e.cfg.EarlyThresholdSeconds:
		p.Status = store.StatusEarly
	default:
		p.Status = store.StatusOnTime
	}
}

func (e *Engine) routeForTrip(tripID string, vehicle *gtfsrt.VehiclePosition, update *gtfsrt.TripUpdate) string {
	if vehicle != nil && vehicle.RouteID != nil && *vehicle.RouteID != "" {
		return *vehicle.RouteID
	}
	if update != nil && update.RouteID != nil && *update.RouteID != "" {
		return *update.RouteID
	}
	return e.schedule.RouteForTrip(tripID)
}

func indexStopTimeUpdates(update *gtfsrt.TripUpdate) map[string]*gtfsrt.StopTimeUpdate {
	byStop := make(map[string]*gtfsrt.StopTimeUpdate)
	if update == nil {
		return byStop
	}
	for i := range update.StopTimeUpdates {
		byStop[update.StopTimeUpdates[i].StopID] = &update.StopTimeUpdates[i]
	}
	return byStop
}
