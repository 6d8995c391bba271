package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Routes builds the full handler chain: routing, request logging, and
// security headers.
func (api *RestAPI) Routes() http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/v1/health", api.healthHandler)

	router.HandlerFunc(http.MethodGet, "/v1/vehicles", api.vehiclesHandler)
	router.HandlerFunc(http.MethodGet, "/v1/vehicles/:vehicle_id", api.vehicleHandler)

	router.HandlerFunc(http.MethodGet, "/v1/predictions/stop/:stop_id", api.predictionsForStopHandler)
	router.HandlerFunc(http.MethodGet, "/v1/predictions/route/:route_id", api.predictionsForRouteHandler)
	router.HandlerFunc(http.MethodGet, "/v1/predictions/vehicle/:vehicle_id", api.predictionsForVehicleHandler)
	router.HandlerFunc(http.MethodPost, "/v1/predictions/compute", api.computePredictionsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/predictions/stats", api.predictionStatsHandler)
	router.HandlerFunc(http.MethodDelete, "/v1/predictions/cleanup", api.cleanupPredictionsHandler)

	router.HandlerFunc(http.MethodGet, "/v1/ws/routes/:route_id", api.routeWebsocketHandler)

	router.Handler(http.MethodGet, "/metrics", api.Metrics.Handler())

	logged := NewRequestLoggingMiddleware(api.Logger)(router)
	return securityHeaders(logged)
}
