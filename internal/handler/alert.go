package handler

import (
	"net/http"

	"roadsafety/internal/alert"
)

// AlertHandler returns the current alert as plain text. Without cam_index it
// is the latest text written by any camera; with it, that camera's own text.
func AlertHandler(board *alert.Board) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		camera, given, err := parseCamIndex(r, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		text := board.Latest().Text
		if given {
			snap, _ := board.ForCamera(camera)
			text = snap.Text
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write([]byte(text))
	}
}
