package restapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnsingh007-ui/transitpulse/internal/app"
	"github.com/Johnsingh007-ui/transitpulse/internal/broadcast"
	"github.com/Johnsingh007-ui/transitpulse/internal/config"
	"github.com/Johnsingh007-ui/transitpulse/internal/fusion"
	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/metrics"
	"github.com/Johnsingh007-ui/transitpulse/internal/models"
	"github.com/Johnsingh007-ui/transitpulse/internal/static"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
)

func testFeedZip(t *testing.T) []byte {
	t.Helper()

	files := map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"GG,Golden Gate Transit,https://example.com,America/Los_Angeles\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"route-10,GG,10,Sausalito Ferry,3\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"stop-a,First & Main,37.8000,-122.4000\n" +
			"stop-b,Second & Main,37.8100,-122.4100\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign\n" +
			"route-10,weekday,trip-1,Downtown\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"trip-1,08:00:00,08:01:00,stop-a,1\n" +
			"trip-1,08:15:00,08:15:30,stop-b,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"weekday,1,1,1,1,1,0,0,20250101,20261231\n",
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(f, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestAPI(t *testing.T) *RestAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	path := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(path, testFeedZip(t), 0o644))
	schedule, err := static.NewManager(context.Background(), path, logger)
	require.NoError(t, err)

	hub := broadcast.NewHub(time.Minute, logger)
	t.Cleanup(hub.Shutdown)

	application := &app.Application{
		Config: &config.Config{
			Env:              "test",
			AgencyID:         "GG",
			RealtimeInterval: 30 * time.Second,
			StaticInterval:   24 * time.Hour,
			VehicleRetention: 30 * time.Minute,
		},
		Logger:      logger,
		FeedClient:  gtfsrt.NewClient(time.Second, logger),
		Vehicles:    store.NewVehicleStore(db),
		Predictions: store.NewPredictionStore(db),
		Schedule:    schedule,
		Fusion:      fusion.NewEngine(schedule, fusion.DefaultConfig(), logger),
		Hub:         hub,
		Metrics:     metrics.NewCollector(30*time.Second, 24*time.Hour),
	}
	return NewRestAPI(application)
}

func doRequest(t *testing.T, api *RestAPI, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) models.ResponseModel {
	t.Helper()

	var envelope struct {
		Code        int             `json:"code"`
		CurrentTime int64           `json:"currentTime"`
		Data        json.RawMessage `json:"data"`
		Text        string          `json:"text"`
		Version     int             `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	if data != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, data))
	}
	return models.ResponseModel{
		Code:        envelope.Code,
		CurrentTime: envelope.CurrentTime,
		Text:        envelope.Text,
		Version:     envelope.Version,
	}
}

func seedVehicle(t *testing.T, api *RestAPI, vehicleID, routeID string) {
	t.Helper()

	tripID := "trip-1"
	lat, lon := 37.805, -122.405
	v := gtfsrt.VehiclePosition{
		VehicleID:  vehicleID,
		TripID:     &tripID,
		RouteID:    &routeID,
		Latitude:   &lat,
		Longitude:  &lon,
		ObservedAt: time.Now(),
	}
	require.NoError(t, api.Vehicles.Upsert(context.Background(), v))
}

func seedPrediction(t *testing.T, api *RestAPI, stopID, routeID, tripID string, arrival time.Time) {
	t.Helper()

	vehicleID := "bus-7"
	p := store.Prediction{
		StopID:           stopID,
		RouteID:          routeID,
		TripID:           tripID,
		VehicleID:        &vehicleID,
		PredictedArrival: &arrival,
		ScheduledArrival: &arrival,
		Confidence:       0.95,
		Source:           store.SourceGTFSRT,
		Status:           store.StatusOnTime,
		ExpiresAt:        time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, api.Predictions.Upsert(context.Background(), p))
}

func TestHealthHandler(t *testing.T) {
	api := newTestAPI(t)
	seedVehicle(t, api, "bus-1", "route-10")

	rec := doRequest(t, api, http.MethodGet, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status       string `json:"status"`
		Env          string `json:"env"`
		AgencyID     string `json:"agencyId"`
		VehicleCount int    `json:"vehicleCount"`
	}
	envelope := decodeEnvelope(t, rec, &health)

	assert.Equal(t, http.StatusOK, envelope.Code)
	assert.Equal(t, "OK", envelope.Text)
	assert.Equal(t, 2, envelope.Version)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "GG", health.AgencyID)
	assert.Equal(t, 1, health.VehicleCount)
}

func TestVehiclesHandler(t *testing.T) {
	api := newTestAPI(t)
	seedVehicle(t, api, "bus-1", "route-10")
	seedVehicle(t, api, "bus-2", "route-10")
	seedVehicle(t, api, "bus-3", "route-20")

	t.Run("all vehicles", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.VehicleList
		decodeEnvelope(t, rec, &list)
		assert.Equal(t, 3, list.Count)
	})

	t.Run("filtered by route", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles?route_id=route-10")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.VehicleList
		decodeEnvelope(t, rec, &list)
		require.Equal(t, 2, list.Count)
		for _, v := range list.Vehicles {
			assert.Equal(t, "route-10", v.RouteID)
		}
	})

	t.Run("invalid route id", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles?route_id=bad%20route!")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "fieldErrors")
	})

	t.Run("active within window", func(t *testing.T) {
		stale := gtfsrt.VehiclePosition{
			VehicleID:  "bus-old",
			ObservedAt: time.Now().Add(-2 * time.Hour),
		}
		require.NoError(t, api.Vehicles.Upsert(context.Background(), stale))

		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles?active_within=600")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.VehicleList
		decodeEnvelope(t, rec, &list)
		assert.Equal(t, 3, list.Count, "the stale vehicle is excluded")
	})
}

func TestVehicleHandler(t *testing.T) {
	api := newTestAPI(t)
	seedVehicle(t, api, "bus-1", "route-10")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles/bus-1")
		require.Equal(t, http.StatusOK, rec.Code)

		var status models.VehicleStatus
		decodeEnvelope(t, rec, &status)
		assert.Equal(t, "bus-1", status.VehicleID)
		assert.Equal(t, "route-10", status.RouteID)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles/bus-404")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("heading derived from stop when bearing is absent", func(t *testing.T) {
		lastStop := "stop-a"
		lat, lon := 37.7900, -122.4000 // due south of stop-a
		v := gtfsrt.VehiclePosition{
			VehicleID:  "bus-2",
			Latitude:   &lat,
			Longitude:  &lon,
			LastStopID: &lastStop,
			ObservedAt: time.Now(),
		}
		require.NoError(t, api.Vehicles.Upsert(context.Background(), v))

		rec := doRequest(t, api, http.MethodGet, "/v1/vehicles/bus-2")
		require.Equal(t, http.StatusOK, rec.Code)

		var status models.VehicleStatus
		decodeEnvelope(t, rec, &status)
		assert.Equal(t, "N", status.Heading)
	})
}

func TestPredictionsForStopHandler(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now()
	seedPrediction(t, api, "stop-a", "route-10", "trip-1", now.Add(5*time.Minute))
	seedPrediction(t, api, "stop-a", "route-20", "trip-2", now.Add(3*time.Minute))
	seedPrediction(t, api, "stop-b", "route-10", "trip-1", now.Add(15*time.Minute))

	t.Run("all routes, soonest first", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/predictions/stop/stop-a")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.PredictionList
		decodeEnvelope(t, rec, &list)
		require.Equal(t, 2, list.Count)
		assert.Equal(t, "trip-2", list.Predictions[0].TripID)
		assert.Equal(t, "trip-1", list.Predictions[1].TripID)
		assert.Equal(t, "First & Main", list.Predictions[0].StopName)
	})

	t.Run("route filter", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/predictions/stop/stop-a?route_id=route-10")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.PredictionList
		decodeEnvelope(t, rec, &list)
		require.Equal(t, 1, list.Count)
		assert.Equal(t, "route-10", list.Predictions[0].RouteID)
	})

	t.Run("limit", func(t *testing.T) {
		rec := doRequest(t, api, http.MethodGet, "/v1/predictions/stop/stop-a?limit=1")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.PredictionList
		decodeEnvelope(t, rec, &list)
		assert.Equal(t, 1, list.Count)
	})
}

func TestPredictionsForRouteHandler(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now()
	seedPrediction(t, api, "stop-a", "route-10", "trip-1", now.Add(5*time.Minute))
	seedPrediction(t, api, "stop-b", "route-10", "trip-1", now.Add(15*time.Minute))
	seedPrediction(t, api, "stop-a", "route-20", "trip-2", now.Add(3*time.Minute))

	rec := doRequest(t, api, http.MethodGet, "/v1/predictions/route/route-10")
	require.Equal(t, http.StatusOK, rec.Code)

	var list models.PredictionList
	decodeEnvelope(t, rec, &list)
	require.Equal(t, 2, list.Count)
	for _, p := range list.Predictions {
		assert.Equal(t, "route-10", p.RouteID)
	}
}

func TestPredictionsForVehicleHandler(t *testing.T) {
	api := newTestAPI(t)
	seedPrediction(t, api, "stop-a", "route-10", "trip-1", time.Now().Add(5*time.Minute))

	rec := doRequest(t, api, http.MethodGet, "/v1/predictions/vehicle/bus-7")
	require.Equal(t, http.StatusOK, rec.Code)

	var list models.PredictionList
	decodeEnvelope(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "bus-7", list.Predictions[0].VehicleID)
}

func TestComputePredictionsHandler(t *testing.T) {
	// No realtime feeds are configured, so a forced cycle computes nothing.
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/predictions/compute")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		PredictionsComputed int `json:"predictionsComputed"`
	}
	decodeEnvelope(t, rec, &result)
	assert.Equal(t, 0, result.PredictionsComputed)
}

func TestPredictionStatsHandler(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now()
	seedPrediction(t, api, "stop-a", "route-10", "trip-1", now.Add(5*time.Minute))
	seedPrediction(t, api, "stop-b", "route-10", "trip-1", now.Add(15*time.Minute))

	rec := doRequest(t, api, http.MethodGet, "/v1/predictions/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	decodeEnvelope(t, rec, &stats)
	assert.Equal(t, 2, stats.TotalPredictions)
	assert.Equal(t, 2, stats.RealTime)
	assert.InDelta(t, 0.95, stats.AverageConfidence, 0.001)
	assert.Equal(t, 2, stats.BySource[store.SourceGTFSRT])
}

func TestCleanupPredictionsHandler(t *testing.T) {
	api := newTestAPI(t)

	expired := store.Prediction{
		StopID:     "stop-a",
		RouteID:    "route-10",
		TripID:     "trip-old",
		Confidence: 0.5,
		Source:     store.SourceSchedule,
		Status:     store.StatusOnTime,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	require.NoError(t, api.Predictions.Upsert(context.Background(), expired))

	rec := doRequest(t, api, http.MethodDelete, "/v1/predictions/cleanup")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		PredictionsRemoved int64 `json:"predictionsRemoved"`
	}
	decodeEnvelope(t, rec, &result)
	assert.Equal(t, int64(1), result.PredictionsRemoved)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transitpulse_")
}

func TestSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/v1/health")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouteWebsocket(t *testing.T) {
	api := newTestAPI(t)

	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/routes/route-10"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var welcome broadcast.Message
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "subscribed", welcome.Type)
	assert.Equal(t, "route-10", welcome.RouteID)

	require.Eventually(t, func() bool {
		return api.Hub.RouteSubscriberCount("route-10") == 1
	}, time.Second, 10*time.Millisecond)

	api.Hub.BroadcastToRoute("route-10", broadcast.Message{
		Type:      "vehicle_update",
		RouteID:   "route-10",
		Timestamp: time.Now(),
	})

	var update broadcast.Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "vehicle_update", update.Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return api.Hub.RouteSubscriberCount("route-10") == 0
	}, time.Second, 10*time.Millisecond)
}
