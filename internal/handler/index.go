package handler

import (
	_ "embed"
	"net/http"
)

//go:embed static/index.html
var indexPage []byte

// IndexHandler serves the single-page viewer.
func IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexPage)
	}
}
