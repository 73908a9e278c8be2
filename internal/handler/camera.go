package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"
	"roadsafety/internal/mjpeg"
	"roadsafety/internal/service"
)

// CameraLister reports the device indices that can be opened.
type CameraLister interface {
	List() []int
}

// FeedSource hands out shared camera feeds.
type FeedSource interface {
	Subscribe(camera int) (*service.Subscription, error)
	Unsubscribe(sub *service.Subscription)
}

// VideoOptions configure VideoHandler.
type VideoOptions struct {
	Keepalive    time.Duration
	PlaceholderW int
	PlaceholderH int
}

// parseCamIndex reads the cam_index query parameter. A missing value yields
// fallback; anything that is not an integer is an error.
func parseCamIndex(r *http.Request, fallback int) (int, bool, error) {
	raw := r.URL.Query().Get("cam_index")
	if raw == "" {
		return fallback, false, nil
	}
	camera, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("cam_index must be an integer, got %q", raw)
	}
	return camera, true, nil
}

// ListCamerasHandler returns the openable camera indices as a JSON array.
func ListCamerasHandler(lister CameraLister, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cameras := lister.List()
		logger.Info("📷 Found %d camera(s): %v", len(cameras), cameras)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cameras); err != nil {
			logger.Error("Failed to encode camera list: %v", err)
		}
	}
}

// VideoHandler streams the annotated feed of one camera as MJPEG until the
// client goes away or the feed ends.
func VideoHandler(feeds FeedSource, m *metrics.Metrics, opts VideoOptions, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		camera, _, err := parseCamIndex(r, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := feeds.Subscribe(camera)
		if err != nil {
			if errors.Is(err, service.ErrManagerStopped) {
				http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
				return
			}
			logger.Error("Failed to start feed for camera %d: %v", camera, err)
			http.Error(w, "Failed to start feed", http.StatusInternalServerError)
			return
		}
		defer feeds.Unsubscribe(sub)

		m.StreamOpened()
		defer m.StreamClosed()

		placeholder, err := mjpeg.Placeholder(opts.PlaceholderW, opts.PlaceholderH, fmt.Sprintf("camera %d: waiting for frames", camera))
		if err != nil {
			logger.Warning("Failed to render placeholder frame: %v", err)
		}

		logger.Info("🎥 Stream %s opened for camera %d from %s", sub.ID, camera, r.RemoteAddr)
		err = mjpeg.Stream(r.Context(), w, sub.Frames, mjpeg.Options{
			Keepalive:   opts.Keepalive,
			Placeholder: placeholder,
			OnFrame: func(placeholder bool) {
				if placeholder {
					m.PlaceholderSent.Add(1)
				}
			},
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warning("Stream %s for camera %d ended: %v", sub.ID, camera, err)
			return
		}
		logger.Info("🎥 Stream %s closed for camera %d", sub.ID, camera)
	}
}
