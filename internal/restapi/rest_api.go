// Package restapi serves the HTTP and websocket surface: live vehicles,
// arrival predictions, and per-route realtime subscriptions.
package restapi

import (
	"github.com/Johnsingh007-ui/transitpulse/internal/app"
)

type RestAPI struct {
	*app.Application
}

// NewRestAPI creates a new RestAPI instance around the shared application
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{Application: app}
}
