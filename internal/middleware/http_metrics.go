package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unmatchedRoute is the path label of requests outside the known routes.
const unmatchedRoute = "/other"

// routePatterns lists the served routes. "{id}" matches any one segment.
var routePatterns = [][]string{
	{""},
	{"api", "logs"},
	{"api", "logs", "export"},
	{"api", "preview-logs"},
	{"api", "sessions", "{id}", "submissions"},
	{"ws"},
	{"ws", "watch"},
	{"health"},
	{"ready"},
	{"metrics"},
}

// normalizePath maps a request path onto its route pattern so that metric
// labels stay low-cardinality: /api/sessions/42/submissions becomes
// /api/sessions/{id}/submissions and unknown paths collapse to /other.
func normalizePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, pattern := range routePatterns {
		if matchRoute(pattern, segments) {
			return "/" + strings.Join(pattern, "/")
		}
	}
	return unmatchedRoute
}

func matchRoute(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p == "{id}" {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap returns the underlying writer for http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// isProbe reports whether the request is a health probe or a scrape.
func isProbe(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// HTTPMetrics is a middleware that records request duration, sizes and
// counts. Health probes and metric scrapes are not recorded. Websocket
// upgrades count once, when the connection closes.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)
			metrics.httpInFlight.Inc()
			defer metrics.httpInFlight.Dec()

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
