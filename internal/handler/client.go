package handler

import (
	"net/http"

	"roadsafety/internal/logger"
	"roadsafety/internal/service/websocket"

	gorillaws "github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AlertsWebsocketHandler registers viewers in the hub so they receive alert
// changes as they happen.
func AlertsWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
					logger.Info("Alert viewer disconnected normally")
				} else {
					logger.Warning("Alert viewer disconnected: %v", err)
				}
				break
			}
		}
	}
}
