package api

import (
	"log/slog"
	"net/http"

	"github.com/educode/educode/internal/middleware"
)

// SocketHandlers serves the relay socket endpoints.
type SocketHandlers interface {
	ServeIngest(w http.ResponseWriter, r *http.Request)
	ServeWatch(w http.ResponseWriter, r *http.Request)
}

// RouterConfig holds everything the ingest router serves. Nil handlers
// leave their routes unregistered.
type RouterConfig struct {
	Logs     *LogHandlers
	Preview  *PreviewHandlers
	Sessions *SessionHandlers
	Health   *HealthHandlers
	Sockets  SocketHandlers
	// MetricsHandler serves /metrics, usually promhttp.HandlerFor.
	MetricsHandler http.Handler

	Logger  *slog.Logger
	Metrics *middleware.Metrics
	// Auth validates bearer tokens; nil accepts every request anonymously.
	Auth TokenValidator
	// RateLimitStore enables per-IP rate limiting when set.
	RateLimitStore middleware.RateLimitStore
	CORSOrigins    []string
	// ServiceName enables request tracing when set.
	ServiceName string
}

// NewRouter builds the ingest service handler. Middleware order, outermost
// first: RequestID, Tracing, Logging, HTTPMetrics, CORS, Authenticate.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	limit := func(config middleware.RateLimitConfig, h http.HandlerFunc) http.Handler {
		if cfg.RateLimitStore == nil {
			return h
		}
		return middleware.RateLimiter(cfg.RateLimitStore, config, middleware.IPKeyFunc(), cfg.Metrics)(h)
	}

	if cfg.Logs != nil {
		mux.Handle("/api/logs", limit(middleware.DefaultIngestLimit(), cfg.Logs.Logs))
		mux.Handle("/api/logs/export", limit(middleware.DefaultExportLimit(), cfg.Logs.Export))
	}
	if cfg.Preview != nil {
		mux.Handle("/api/preview-logs", limit(middleware.DefaultGlobalLimit(), cfg.Preview.PreviewLogs))
	}
	if cfg.Sessions != nil {
		mux.Handle("/api/sessions/{id}/submissions", limit(middleware.DefaultGlobalLimit(), cfg.Sessions.Submissions))
	}
	if cfg.Sockets != nil {
		mux.HandleFunc("/ws", cfg.Sockets.ServeIngest)
		mux.HandleFunc("/ws/watch", cfg.Sockets.ServeWatch)
	}
	if cfg.Health != nil {
		mux.HandleFunc("/health", cfg.Health.Health)
		mux.HandleFunc("/ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("/metrics", cfg.MetricsHandler)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, r, ErrCodeNotFound, "The requested resource was not found")
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Authenticate(cfg.Auth)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins))(handler)
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	if cfg.ServiceName != "" {
		handler = middleware.Tracing(cfg.ServiceName)(handler)
	}
	return middleware.RequestID(handler)
}
