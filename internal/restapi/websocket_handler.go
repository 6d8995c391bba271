package restapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Johnsingh007-ui/transitpulse/internal/broadcast"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST surface is public; the websocket surface matches it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// routeWebsocketHandler upgrades the connection and subscribes it to one
// route's update stream. The read loop exists only to notice the peer going
// away; clients are not expected to send anything.
func (api *RestAPI) routeWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	routeID := utils.ExtractIDFromParams(r, "route_id")
	if err := utils.ValidateID(routeID); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"route_id": {err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		api.Logger.Debug("websocket upgrade failed", "route_id", routeID, "error", err)
		return
	}

	// The welcome frame is written before the connection is registered; once
	// a connection is in the hub, only the hub writes to it.
	welcome := broadcast.Message{
		Type:      "subscribed",
		RouteID:   routeID,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(welcome); err != nil {
		_ = conn.Close()
		return
	}

	api.Hub.Connect(routeID, conn)
	go api.readUntilClosed(routeID, conn)
}

func (api *RestAPI) readUntilClosed(routeID string, conn *websocket.Conn) {
	defer func() {
		api.Hub.Disconnect(routeID, conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
