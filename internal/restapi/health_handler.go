package restapi

import (
	"net/http"

	"github.com/Johnsingh007-ui/transitpulse/internal/models"
)

func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	vehicleCount, err := api.Vehicles.Count(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	health := struct {
		Status               string `json:"status"`
		Env                  string `json:"env"`
		AgencyID             string `json:"agencyId"`
		VehicleCount         int    `json:"vehicleCount"`
		WebsocketSubscribers int    `json:"websocketSubscribers"`
		ScheduleLastUpdated  int64  `json:"scheduleLastUpdated"`
	}{
		Status:               "ok",
		Env:                  api.Config.Env,
		AgencyID:             api.Config.AgencyID,
		VehicleCount:         vehicleCount,
		WebsocketSubscribers: api.Hub.SubscriberCount(),
		ScheduleLastUpdated:  api.Schedule.LastUpdated().UnixMilli(),
	}

	api.sendResponse(w, r, models.NewOKResponse(health))
}
