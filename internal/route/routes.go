package route

import (
	"net/http"

	"roadsafety/internal/alert"
	"roadsafety/internal/config"
	"roadsafety/internal/handler"
	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"
	"roadsafety/internal/middleware"
	"roadsafety/internal/service/websocket"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Board   *alert.Board
	Cameras handler.CameraLister
	Feeds   handler.FeedSource
	Hub     *websocket.HubService
}

// SetupRoutes registers the viewer page, API endpoints and log endpoints,
// and wraps the mux with request logging.
func SetupRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()

	// Viewer
	mux.HandleFunc("/", handler.IndexHandler())

	// API endpoints
	mux.HandleFunc("/list_cameras", handler.ListCamerasHandler(d.Cameras, d.Logger))
	mux.HandleFunc("/alert", handler.AlertHandler(d.Board))
	mux.HandleFunc("/video", handler.VideoHandler(d.Feeds, d.Metrics, handler.VideoOptions{
		Keepalive:    d.Config.StreamKeepalive,
		PlaceholderW: d.Config.CaptureWidth,
		PlaceholderH: d.Config.CaptureHeight,
	}, d.Logger))
	mux.HandleFunc("/ws/alerts", handler.AlertsWebsocketHandler(d.Hub, d.Logger))
	mux.Handle("/metrics", d.Metrics.Handler())

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(d.Logger, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(d.Logger, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(d.Logger, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(d.Logger, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(d.Logger, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(d.Logger, logger.ErrorFile))

	// Apply middleware
	return middleware.RequestLogger(d.Logger)(mux)
}
