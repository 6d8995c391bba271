package restapi

import (
	"net/http"

	"github.com/Johnsingh007-ui/transitpulse/internal/models"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

const defaultPredictionLimit = 20

// predictionsForStopHandler returns the active predictions for one stop,
// soonest arrival first. ?route_id= narrows to one route, ?limit= caps the
// result.
func (api *RestAPI) predictionsForStopHandler(w http.ResponseWriter, r *http.Request) {
	stopID := utils.ExtractIDFromParams(r, "stop_id")
	if err := utils.ValidateID(stopID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"stop_id": {err.Error()}})
		return
	}

	routeID := r.URL.Query().Get("route_id")
	limit := utils.ParseIntParam(r.URL.Query(), "limit", defaultPredictionLimit)

	predictions, err := api.Predictions.ActiveForStop(r.Context(), stopID, routeID, limit)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(api.predictionList(predictions)))
}

func (api *RestAPI) predictionsForRouteHandler(w http.ResponseWriter, r *http.Request) {
	routeID := utils.ExtractIDFromParams(r, "route_id")
	if err := utils.ValidateID(routeID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"route_id": {err.Error()}})
		return
	}

	limit := utils.ParseIntParam(r.URL.Query(), "limit", 100)

	predictions, err := api.Predictions.ActiveForRoute(r.Context(), routeID, limit)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(api.predictionList(predictions)))
}

func (api *RestAPI) predictionsForVehicleHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := utils.ExtractIDFromParams(r, "vehicle_id")
	if err := utils.ValidateID(vehicleID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"vehicle_id": {err.Error()}})
		return
	}

	predictions, err := api.Predictions.ActiveForVehicle(r.Context(), vehicleID)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(api.predictionList(predictions)))
}

// computePredictionsHandler forces a fusion cycle outside the scheduler.
func (api *RestAPI) computePredictionsHandler(w http.ResponseWriter, r *http.Request) {
	computed, err := api.ComputePredictions(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	result := struct {
		PredictionsComputed int `json:"predictionsComputed"`
	}{PredictionsComputed: computed}

	api.sendResponse(w, r, models.NewOKResponse(result))
}

func (api *RestAPI) predictionStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := api.Predictions.ActiveStats(r.Context(), r.URL.Query().Get("route_id"))
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(stats))
}

func (api *RestAPI) cleanupPredictionsHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := api.CleanupExpired(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	result := struct {
		PredictionsRemoved int64 `json:"predictionsRemoved"`
	}{PredictionsRemoved: removed}

	api.sendResponse(w, r, models.NewOKResponse(result))
}

func (api *RestAPI) predictionList(predictions []store.Prediction) models.PredictionList {
	out := make([]models.Prediction, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, models.NewPrediction(p, api.Schedule.StopName(p.StopID)))
	}
	return models.NewPredictionList(out)
}
