package api

import (
	"context"
	"net/http"

	"github.com/educode/educode/internal/activity"
)

// PreviewSource is the preview buffer of an activity logger.
type PreviewSource interface {
	Mode() activity.Mode
	SessionID() string
	PreviewLogs(ctx context.Context) []activity.LogEntry
	ClearPreviewLogs(ctx context.Context)
}

// PreviewHandlers serves the preview log viewer.
type PreviewHandlers struct {
	source PreviewSource
}

// NewPreviewHandlers creates the preview handlers.
func NewPreviewHandlers(source PreviewSource) *PreviewHandlers {
	return &PreviewHandlers{source: source}
}

// PreviewResponse is returned by GET /api/preview-logs. Logs is oldest
// first and always empty outside LOCAL_DEV.
type PreviewResponse struct {
	Mode      string              `json:"mode"`
	SessionID string              `json:"session_id"`
	Count     int                 `json:"count"`
	Logs      []activity.LogEntry `json:"logs"`
}

// PreviewLogs handles GET and DELETE /api/preview-logs.
func (h *PreviewHandlers) PreviewLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		logs := h.source.PreviewLogs(r.Context())
		writeJSON(w, r.Context(), http.StatusOK, PreviewResponse{
			Mode:      h.source.Mode().String(),
			SessionID: h.source.SessionID(),
			Count:     len(logs),
			Logs:      logs,
		})
	case http.MethodDelete:
		h.source.ClearPreviewLogs(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrorCode(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
	}
}
