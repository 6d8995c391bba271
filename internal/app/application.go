// Package app wires the service's components together and owns the refresh
// cycles the scheduler drives.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/broadcast"
	"github.com/Johnsingh007-ui/transitpulse/internal/config"
	"github.com/Johnsingh007-ui/transitpulse/internal/fusion"
	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/logging"
	"github.com/Johnsingh007-ui/transitpulse/internal/metrics"
	"github.com/Johnsingh007-ui/transitpulse/internal/models"
	"github.com/Johnsingh007-ui/transitpulse/internal/static"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
)

// Application holds the dependencies for the HTTP handlers and the background
// refresh loops. One instance is built at startup and passed by handle to
// everything that needs shared state.
type Application struct {
	Config *config.Config
	Logger *slog.Logger

	FeedClient  *gtfsrt.Client
	FeedConfig  gtfsrt.FeedConfig
	Vehicles    *store.VehicleStore
	Predictions *store.PredictionStore
	Schedule    *static.Manager
	Fusion      *fusion.Engine
	Hub         *broadcast.Hub
	Metrics     *metrics.Collector
}

// RefreshRealtime runs one poll cycle: fetch both realtime feeds, store the
// vehicle positions, recompute predictions, push updates to websocket
// subscribers, and age out stale rows. Feed failures are partial: one dead
// feed does not stop the other from being processed.
func (app *Application) RefreshRealtime(ctx context.Context) error {
	start := time.Now()

	vehicles, vehicleErr := app.fetchVehicles(ctx)
	updates, updateErr := app.fetchTripUpdates(ctx)
	if vehicleErr != nil && updateErr != nil {
		return vehicleErr
	}

	if len(vehicles) > 0 {
		if err := app.Vehicles.UpsertBatch(ctx, vehicles); err != nil {
			return err
		}
		app.Metrics.VehiclesUpserted.Add(float64(len(vehicles)))
	}

	predictions := app.Fusion.Compute(time.Now(), vehicles, updates)
	if len(predictions) > 0 {
		if err := app.Predictions.UpsertBatch(ctx, predictions); err != nil {
			return err
		}
		app.Metrics.PredictionsComputed.Add(float64(len(predictions)))
	}

	app.broadcastVehicles(vehicles)
	app.cleanup(ctx)
	app.observeGauges(ctx)

	app.Metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	logging.LogOperation(app.Logger, "realtime refresh completed", time.Since(start),
		slog.Int("vehicles", len(vehicles)),
		slog.Int("trip_updates", len(updates)),
		slog.Int("predictions", len(predictions)))
	return nil
}

// RefreshStatic re-reads the static schedule once it has aged past the
// configured interval.
func (app *Application) RefreshStatic(ctx context.Context) error {
	return app.Schedule.RefreshIfStale(ctx, app.Config.StaticInterval)
}

// ComputePredictions forces a fusion cycle outside the scheduler's cadence
// and reports how many predictions were written.
func (app *Application) ComputePredictions(ctx context.Context) (int, error) {
	vehicles, vehicleErr := app.fetchVehicles(ctx)
	updates, updateErr := app.fetchTripUpdates(ctx)
	if vehicleErr != nil && updateErr != nil {
		return 0, vehicleErr
	}

	predictions := app.Fusion.Compute(time.Now(), vehicles, updates)
	if len(predictions) == 0 {
		return 0, nil
	}
	if err := app.Predictions.UpsertBatch(ctx, predictions); err != nil {
		return 0, err
	}
	app.Metrics.PredictionsComputed.Add(float64(len(predictions)))
	return len(predictions), nil
}

// CleanupExpired removes expired predictions immediately.
func (app *Application) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := app.Predictions.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	app.Metrics.PredictionsExpired.Add(float64(removed))
	return removed, nil
}

func (app *Application) fetchVehicles(ctx context.Context) ([]gtfsrt.VehiclePosition, error) {
	if app.FeedConfig.VehiclePositionsURL == "" {
		return nil, nil
	}

	app.Metrics.FeedPolls.WithLabelValues("vehicle_positions").Inc()
	vehicles, err := app.FeedClient.FetchVehiclePositions(ctx, app.FeedConfig)
	if err != nil {
		app.Metrics.FeedPollErrs.WithLabelValues("vehicle_positions").Inc()
		logging.LogError(app.Logger, "vehicle positions fetch failed", err,
			slog.String("agency_id", app.FeedConfig.AgencyID))
		return nil, err
	}
	return vehicles, nil
}

func (app *Application) fetchTripUpdates(ctx context.Context) ([]gtfsrt.TripUpdate, error) {
	if app.FeedConfig.TripUpdatesURL == "" {
		return nil, nil
	}

	app.Metrics.FeedPolls.WithLabelValues("trip_updates").Inc()
	updates, err := app.FeedClient.FetchTripUpdates(ctx, app.FeedConfig)
	if err != nil {
		app.Metrics.FeedPollErrs.WithLabelValues("trip_updates").Inc()
		logging.LogError(app.Logger, "trip updates fetch failed", err,
			slog.String("agency_id", app.FeedConfig.AgencyID))
		return nil, err
	}
	return updates, nil
}

// broadcastVehicles groups the cycle's vehicles by route and pushes one
// message per route to that route's subscribers.
func (app *Application) broadcastVehicles(vehicles []gtfsrt.VehiclePosition) {
	byRoute := make(map[string][]models.VehicleStatus)
	for _, v := range vehicles {
		if v.RouteID == nil || *v.RouteID == "" {
			continue
		}
		byRoute[*v.RouteID] = append(byRoute[*v.RouteID], models.NewVehicleStatus(v))
	}

	for routeID, routeVehicles := range byRoute {
		app.Hub.BroadcastToRoute(routeID, broadcast.Message{
			Type:      "vehicle_update",
			RouteID:   routeID,
			Timestamp: time.Now(),
			Data:      routeVehicles,
		})
		app.Metrics.BroadcastsSent.Inc()
	}
}

func (app *Application) cleanup(ctx context.Context) {
	purged, err := app.Vehicles.PurgeOlderThan(ctx, app.Config.VehicleRetention)
	if err != nil {
		logging.LogError(app.Logger, "vehicle purge failed", err)
	} else if purged > 0 {
		app.Logger.Debug("purged stale vehicles", slog.Int64("count", purged))
	}

	expired, err := app.Predictions.DeleteExpired(ctx)
	if err != nil {
		logging.LogError(app.Logger, "prediction cleanup failed", err)
	} else if expired > 0 {
		app.Metrics.PredictionsExpired.Add(float64(expired))
	}
}

func (app *Application) observeGauges(ctx context.Context) {
	if count, err := app.Vehicles.Count(ctx); err == nil {
		app.Metrics.VehiclesStored.Set(float64(count))
	}
	app.Metrics.WebsocketSubscribers.Set(float64(app.Hub.SubscriberCount()))
}
