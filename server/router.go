// Package server exposes the relay over HTTP.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LivenessMessage is the body of GET /.
const LivenessMessage = "Video relay server running"

// RouterParams ...
type RouterParams struct {
	// AllowedObjects are doublestar patterns a source object id has to match. Empty allows every id.
	AllowedObjects []string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewRouter creates the handler of the relay service.
//
// Routes:
//   - GET / - Liveness probe
//   - POST /upload - Relay one source object to the sink
//   - GET /metrics - Prometheus metrics
//
// Requests have no timeout: an upload lasts as long as the transfer does and is
// cancelled when the client goes away.
func NewRouter(uploader Uploader, params RouterParams, logger log.Logger) (http.Handler, error) {
	if uploader == nil {
		return nil, fmt.Errorf("uploader must not be nil")
	}
	for _, pattern := range params.AllowedObjects {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid allowed object pattern: %s", pattern)
		}
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	uploads := &uploadHandler{
		uploader: uploader,
		allowed:  params.AllowedObjects,
		logger:   logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, LivenessMessage)
	})
	r.Post("/upload", uploads.ServeHTTP)
	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	return gzhttp.GzipHandler(r), nil
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/" || r.URL.Path == "/metrics" {
				logger.Debugf("[%s] %s %s %d %s", requestID, r.Method, r.URL.Path, ww.Status(), time.Since(start))
				return
			}
			logger.Infof("[%s] %s %s %d %d bytes %s", requestID, r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start))
		})
	}
}
