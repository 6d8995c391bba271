package restapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/models"
	"github.com/Johnsingh007-ui/transitpulse/internal/store"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

// vehiclesHandler lists the stored vehicles, optionally filtered by route
// with ?route_id= or by recency with ?active_within= (seconds).
func (api *RestAPI) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("route_id")
	activeWithin := utils.ParseIntParam(r.URL.Query(), "active_within", 0)

	var vehicles []gtfsrt.VehiclePosition
	var err error
	switch {
	case routeID != "":
		if idErr := utils.ValidateID(routeID); idErr != nil {
			api.validationErrorResponse(w, r, map[string][]string{"route_id": {idErr.Error()}})
			return
		}
		vehicles, err = api.Vehicles.ByRoute(r.Context(), routeID)
	case activeWithin > 0:
		vehicles, err = api.Vehicles.ActiveSince(r.Context(), time.Duration(activeWithin)*time.Second)
	default:
		vehicles, err = api.Vehicles.All(r.Context())
	}
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	statuses := make([]models.VehicleStatus, 0, len(vehicles))
	for _, v := range vehicles {
		statuses = append(statuses, api.vehicleStatus(v))
	}

	api.sendResponse(w, r, models.NewOKResponse(models.NewVehicleList(statuses)))
}

// vehicleStatus builds the response shape, deriving a compass heading toward
// the vehicle's referenced stop when the feed reports no bearing.
func (api *RestAPI) vehicleStatus(v gtfsrt.VehiclePosition) models.VehicleStatus {
	status := models.NewVehicleStatus(v)
	if status.Heading == "" && v.Latitude != nil && v.Longitude != nil && v.LastStopID != nil {
		if lat, lon, ok := api.Schedule.StopCoordinates(*v.LastStopID); ok {
			status.Heading = utils.CompassDirection(*v.Latitude, *v.Longitude, lat, lon)
		}
	}
	return status
}

func (api *RestAPI) vehicleHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := utils.ExtractIDFromParams(r, "vehicle_id")
	if err := utils.ValidateID(vehicleID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"vehicle_id": {err.Error()}})
		return
	}

	vehicle, err := api.Vehicles.ByID(r.Context(), vehicleID)
	if errors.Is(err, store.ErrNotFound) {
		api.sendNotFound(w, r)
		return
	}
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewOKResponse(api.vehicleStatus(vehicle)))
}
