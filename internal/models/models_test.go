package models

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
)

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

func TestNewOKResponse(t *testing.T) {
	data := map[string]string{"status": "all good"}

	response := NewOKResponse(data)

	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "OK", response.Text)
	assert.Equal(t, data, response.Data)
	assert.Equal(t, 2, response.Version)
	assert.InDelta(t, time.Now().UnixNano()/int64(time.Millisecond), response.CurrentTime, 100)
}

func TestNewPrediction(t *testing.T) {
	arrival := time.Date(2025, 6, 15, 12, 10, 0, 0, time.UTC)
	scheduled := arrival.Add(-2 * time.Minute)
	expires := arrival.Add(10 * time.Minute)

	p := store.Prediction{
		ID:               "pred-1",
		StopID:           "stop-a",
		RouteID:          "route-10",
		TripID:           "trip-1",
		VehicleID:        strPtr("bus-101"),
		StopSequence:     intPtr(3),
		Headsign:         strPtr("Downtown"),
		PredictedArrival: &arrival,
		ScheduledArrival: &scheduled,
		DelaySeconds:     120,
		Confidence:       0.95,
		Source:           store.SourceGTFSRT,
		Status:           store.StatusOnTime,
		ExpiresAt:        expires,
	}

	out := NewPrediction(p, "First & Main")

	assert.Equal(t, "pred-1", out.ID)
	assert.Equal(t, "First & Main", out.StopName)
	assert.Equal(t, "bus-101", out.VehicleID)
	assert.Equal(t, "Downtown", out.Headsign)
	assert.Equal(t, 3, *out.StopSequence)
	require.NotNil(t, out.PredictedArrival)
	assert.Equal(t, arrival.UnixMilli(), *out.PredictedArrival)
	assert.Equal(t, scheduled.UnixMilli(), *out.ScheduledArrival)
	assert.Nil(t, out.PredictedDeparture)
	assert.Equal(t, expires.UnixMilli(), out.ExpiresAt)
}

func TestNewPrediction_SanitizesFeedText(t *testing.T) {
	p := store.Prediction{
		ID:         "pred-1",
		StopID:     "stop-a",
		RouteID:    "route-10",
		TripID:     "trip-1",
		Headsign:   strPtr("<script>x</script>Downtown "),
		Confidence: 0.5,
		Source:     store.SourceSchedule,
		Status:     store.StatusOnTime,
		ExpiresAt:  time.Now().Add(time.Minute),
	}

	out := NewPrediction(p, " <b>First & Main</b>")

	assert.Equal(t, "xDowntown", out.Headsign)
	assert.Equal(t, "First & Main", out.StopName)
}

func TestNewVehicleStatus(t *testing.T) {
	observed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	status := 2
	occupancy := 5

	v := gtfsrt.VehiclePosition{
		VehicleID:       "bus-101",
		TripID:          strPtr("trip-1"),
		RouteID:         strPtr("route-10"),
		Latitude:        floatPtr(37.80),
		Longitude:       floatPtr(-122.40),
		Bearing:         floatPtr(92),
		Speed:           floatPtr(8.5),
		CurrentStatus:   &status,
		OccupancyStatus: &occupancy,
		LastStopID:      strPtr("stop-42"),
		ObservedAt:      observed,
	}

	out := NewVehicleStatus(v)

	assert.Equal(t, "bus-101", out.VehicleID)
	assert.Equal(t, "trip-1", out.TripID)
	require.NotNil(t, out.Location)
	assert.InDelta(t, 37.80, out.Location.Lat, 0.0001)
	assert.Equal(t, "E", out.Heading)
	assert.Equal(t, "IN_TRANSIT_TO", out.CurrentStatus)
	assert.Equal(t, "FULL", out.OccupancyStatus)
	assert.Equal(t, observed.UnixMilli(), out.LastUpdateTime)
}

func TestNewVehicleStatus_UnknownEnumFallsBack(t *testing.T) {
	status := 99
	v := gtfsrt.VehiclePosition{
		VehicleID:     "bus-101",
		CurrentStatus: &status,
		ObservedAt:    time.Now(),
	}

	out := NewVehicleStatus(v)
	assert.Equal(t, UnknownValue, out.CurrentStatus)
	assert.Nil(t, out.Location)
	assert.Empty(t, out.Heading)
}

func TestNewVehicleList(t *testing.T) {
	list := NewVehicleList([]VehicleStatus{{VehicleID: "a"}, {VehicleID: "b"}})
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Vehicles, 2)
	assert.NotZero(t, list.LastUpdated)
}

func TestNewPredictionList_Empty(t *testing.T) {
	list := NewPredictionList(nil)
	assert.Zero(t, list.Count)
	assert.NotZero(t, list.LastUpdated)
}
