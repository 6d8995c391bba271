package models

import (
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/store"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

// Prediction is the JSON shape of one arrival prediction.
type Prediction struct {
	ID                 string  `json:"id"`
	StopID             string  `json:"stopId"`
	StopName           string  `json:"stopName,omitempty"`
	RouteID            string  `json:"routeId"`
	TripID             string  `json:"tripId"`
	VehicleID          string  `json:"vehicleId,omitempty"`
	StopSequence       *int    `json:"stopSequence,omitempty"`
	Headsign           string  `json:"headsign,omitempty"`
	PredictedArrival   *int64  `json:"predictedArrival,omitempty"`
	PredictedDeparture *int64  `json:"predictedDeparture,omitempty"`
	ScheduledArrival   *int64  `json:"scheduledArrival,omitempty"`
	ScheduledDeparture *int64  `json:"scheduledDeparture,omitempty"`
	DelaySeconds       int     `json:"delaySeconds"`
	Confidence         float64 `json:"confidence"`
	Source             string  `json:"source"`
	Status             string  `json:"status"`
	ExpiresAt          int64   `json:"expiresAt"`
}

// PredictionList wraps a set of predictions for a stop, route, or vehicle.
type PredictionList struct {
	Predictions []Prediction `json:"predictions"`
	Count       int          `json:"count"`
	LastUpdated int64        `json:"lastUpdated"`
}

// NewPrediction converts a stored prediction to its response shape. Times are
// epoch milliseconds to match the rest of the API. Free-text fields originate
// in external feeds and are sanitized before serving.
func NewPrediction(p store.Prediction, stopName string) Prediction {
	out := Prediction{
		ID:           p.ID,
		StopID:       p.StopID,
		StopName:     utils.SanitizeInput(stopName),
		RouteID:      p.RouteID,
		TripID:       p.TripID,
		StopSequence: p.StopSequence,
		DelaySeconds: p.DelaySeconds,
		Confidence:   p.Confidence,
		Source:       p.Source,
		Status:       p.Status,
		ExpiresAt:    epochMillis(p.ExpiresAt),
	}
	if p.VehicleID != nil {
		out.VehicleID = *p.VehicleID
	}
	if p.Headsign != nil {
		out.Headsign = utils.SanitizeInput(*p.Headsign)
	}
	out.PredictedArrival = epochMillisPtr(p.PredictedArrival)
	out.PredictedDeparture = epochMillisPtr(p.PredictedDeparture)
	out.ScheduledArrival = epochMillisPtr(p.ScheduledArrival)
	out.ScheduledDeparture = epochMillisPtr(p.ScheduledDeparture)
	return out
}

// NewPredictionList builds the list wrapper for a query result.
func NewPredictionList(predictions []Prediction) PredictionList {
	return PredictionList{
		Predictions: predictions,
		Count:       len(predictions),
		LastUpdated: ResponseCurrentTime(),
	}
}

func epochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func epochMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := epochMillis(*t)
	return &ms
}
