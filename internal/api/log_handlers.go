package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/middleware"
	"github.com/educode/educode/internal/tracing"
)

// Ingest and listing limits.
const (
	MaxIngestBodyBytes = 1 << 20
	MaxIngestBatch     = activity.DefaultBufferCapacity
	DefaultListLimit   = 100
	MaxListLimit       = 1000
)

// Broadcaster fans stored entries out to live watchers.
type Broadcaster interface {
	Broadcast(entry activity.LogEntry)
}

// LogHandlers serves the activity log endpoints.
type LogHandlers struct {
	repo        activity.Repository
	broadcaster Broadcaster
	env         activity.Environment
	logger      *slog.Logger
	now         func() time.Time
}

// LogHandlersConfig configures LogHandlers.
type LogHandlersConfig struct {
	Repository activity.Repository
	// Broadcaster is optional.
	Broadcaster Broadcaster
	// Environment is stored on every ingested row.
	Environment activity.Environment
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewLogHandlers creates the activity log handlers.
func NewLogHandlers(config LogHandlersConfig) *LogHandlers {
	h := &LogHandlers{
		repo:        config.Repository,
		broadcaster: config.Broadcaster,
		env:         config.Environment,
		logger:      config.Logger,
		now:         config.Now,
	}
	if h.env == "" {
		h.env = activity.EnvironmentProduction
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// IngestResponse is returned by POST /api/logs.
type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ListResponse is returned by GET /api/logs.
type ListResponse struct {
	Logs  []*activity.StoredRow `json:"logs"`
	Count int                   `json:"count"`
}

// Logs dispatches /api/logs by method.
func (h *LogHandlers) Logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Ingest(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		writeErrorCode(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
	}
}

// Ingest handles POST /api/logs. The body is one entry or an array of
// entries in the camelCase LogEntry shape. A bearer identity replaces the
// entry's user fields; a missing IP address is taken from the request.
func (h *LogHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIngestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, r, ErrCodePayloadTooLarge, "Request body too large")
			return
		}
		writeErrorCode(w, r, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	entries, err := decodeEntries(body)
	if err != nil {
		writeErrorCode(w, r, ErrCodeBadRequest, "Invalid request body")
		return
	}
	switch {
	case len(entries) == 0:
		writeErrorCode(w, r, ErrCodeValidation, "At least one entry required")
		return
	case len(entries) > MaxIngestBatch:
		writeErrorCode(w, r, ErrCodePayloadTooLarge, fmt.Sprintf("At most %d entries per request", MaxIngestBatch))
		return
	}

	user, authenticated := middleware.GetUser(r.Context())
	clientIP := middleware.ClientIP(r)

	rows := make([]activity.Row, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Action == "" {
			writeErrorCode(w, r, ErrCodeValidation, fmt.Sprintf("Entry %d: action is required", i))
			return
		}
		if authenticated {
			e.UserID, e.UserEmail = user.ID, user.Email
		}
		if e.IPAddress == "" {
			e.IPAddress = clientIP
		}
		if e.UserAgent == "" {
			e.UserAgent = r.UserAgent()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = h.now().UTC()
		}

		row, err := activity.NewRowWithDetails(e.LogEntry, e.Details, h.env)
		if err != nil {
			writeErrorCode(w, r, ErrCodeValidation, fmt.Sprintf("Entry %d: details must be a JSON object", i))
			return
		}
		rows[i] = row
	}

	ctx, endSpan := tracing.StartSpan(r.Context(), "activity.ingest",
		attribute.Int("activity.batch_size", len(rows)))
	stored := 0
	for i, row := range rows {
		if _, err := h.repo.Insert(ctx, row); err != nil {
			endSpan(err)
			h.logger.WarnContext(ctx, "activity insert failed",
				slog.String("action", row.Action),
				slog.Int("stored", stored),
				slog.String("error", err.Error()))
			writeErrorCode(w, r, ErrCodeStoreUnavailable, "Activity store unavailable")
			return
		}
		stored++
		if h.broadcaster != nil {
			h.broadcaster.Broadcast(rows[i].Entry())
		}
	}
	endSpan(nil)

	writeJSON(w, r.Context(), http.StatusAccepted, IngestResponse{Status: "accepted", Count: stored})
}

// ingestEntry is the wire shape of one ingested entry. Details stay encoded
// so they are stored exactly as sent.
type ingestEntry struct {
	activity.LogEntry
	Details json.RawMessage `json:"details,omitempty"`
}

// decodeEntries accepts a single JSON object or an array of objects.
func decodeEntries(body []byte) ([]ingestEntry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var entries []ingestEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var entry ingestEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, err
	}
	return []ingestEntry{entry}, nil
}

// List handles GET /api/logs?limit=&action=&user_id=&from=&to=.
// action is an action prefix such as "AUTH_"; from and to are RFC 3339.
func (h *LogHandlers) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeErrorCode(w, r, ErrCodeValidation, err.Error())
		return
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}

	rows, err := h.repo.Query(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity query failed", slog.String("error", err.Error()))
		writeErrorCode(w, r, ErrCodeStoreUnavailable, "Activity store unavailable")
		return
	}
	if rows == nil {
		rows = []*activity.StoredRow{}
	}
	writeJSON(w, r.Context(), http.StatusOK, ListResponse{Logs: rows, Count: len(rows)})
}

// Export handles GET /api/logs/export?format=csv|json with the List filters.
// Without a limit the whole matching range is exported.
func (h *LogHandlers) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
		return
	}

	format, err := activity.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErrorCode(w, r, ErrCodeValidation, "format must be csv or json")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeErrorCode(w, r, ErrCodeValidation, err.Error())
		return
	}

	data, err := activity.ExportLogs(r.Context(), h.repo, activity.ExportOptions{
		Format:       format,
		From:         filter.From,
		To:           filter.To,
		ActionPrefix: filter.ActionPrefix,
		UserID:       filter.UserID,
		Limit:        filter.Limit,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activity export failed", slog.String("error", err.Error()))
		writeErrorCode(w, r, ErrCodeStoreUnavailable, "Activity store unavailable")
		return
	}

	filename := fmt.Sprintf("activity-logs-%s.%s", h.now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write export", slog.String("error", err.Error()))
	}
}

// parseFilter reads the shared query parameters of List and Export.
func parseFilter(r *http.Request) (activity.Filter, error) {
	q := r.URL.Query()
	f := activity.Filter{
		ActionPrefix: q.Get("action"),
		UserID:       q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > MaxListLimit {
			return f, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
		}
		f.Limit = limit
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("from must be an RFC 3339 timestamp")
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("to must be an RFC 3339 timestamp")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("to must not be before from")
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
