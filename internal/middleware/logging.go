package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"roadsafety/internal/logger"
)

// statusRecorder remembers the status code written through it. It keeps the
// Flusher and Hijacker of the wrapped writer reachable for streams and websockets.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger logs every request with its status and duration once it completes.
func RequestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start).Round(time.Millisecond)
			if status >= http.StatusInternalServerError {
				logger.Warning("%s %s -> %d (%s) from %s", r.Method, r.URL.RequestURI(), status, elapsed, r.RemoteAddr)
				return
			}
			logger.Info("%s %s -> %d (%s) from %s", r.Method, r.URL.RequestURI(), status, elapsed, r.RemoteAddr)
		})
	}
}
