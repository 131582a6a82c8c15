package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/fingerprint"
	"github.com/educode/educode/internal/middleware"
	"github.com/educode/educode/internal/submission"
)

// SessionRecorder records session views.
type SessionRecorder interface {
	LogSessionAction(verb, sessionID, sessionName string, extra map[string]any, id *activity.Identity)
}

// SessionHandlers serves the session detail view.
type SessionHandlers struct {
	repo     submission.Repository
	recorder SessionRecorder
	logger   *slog.Logger
}

// NewSessionHandlers creates the session handlers. recorder may be nil.
func NewSessionHandlers(repo submission.Repository, recorder SessionRecorder, logger *slog.Logger) *SessionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandlers{repo: repo, recorder: recorder, logger: logger}
}

// SubmissionView is a submission as shown to the teacher.
type SubmissionView struct {
	*submission.Submission
	DisplayName string `json:"display_name"`
	Suspicious  bool   `json:"suspicious"`
	// FingerprintNames lists every display name seen on this submission's
	// device, in submission order. Only set for suspicious submissions.
	FingerprintNames []string `json:"fingerprint_names,omitempty"`
}

// SessionSubmissionsResponse is returned by GET /api/sessions/{id}/submissions.
type SessionSubmissionsResponse struct {
	SessionID              string           `json:"session_id"`
	Submissions            []SubmissionView `json:"submissions"`
	SuspiciousFingerprints []string         `json:"suspicious_fingerprints"`
}

// Submissions handles GET /api/sessions/{id}/submissions.
func (h *SessionHandlers) Submissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := r.PathValue("id")
	subs, err := h.repo.ListBySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, submission.ErrEmptySessionID) {
			writeErrorCode(w, r, ErrCodeValidation, "Session id is required")
			return
		}
		h.logger.ErrorContext(r.Context(), "submission query failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		writeErrorCode(w, r, ErrCodeStoreUnavailable, "Submission store unavailable")
		return
	}

	analysis := fingerprint.Analyze(subs)
	views := make([]SubmissionView, len(subs))
	for i, s := range subs {
		views[i] = SubmissionView{
			Submission:  s,
			DisplayName: fingerprint.DisplayName(s),
			Suspicious:  analysis.IsSuspicious(s),
		}
		if views[i].Suspicious {
			views[i].FingerprintNames = analysis.NamesFor(*s.DeviceFingerprint)
		}
	}
	suspicious := analysis.Suspicious()

	if h.recorder != nil {
		var id *activity.Identity
		if user, ok := middleware.GetUser(r.Context()); ok {
			id = &activity.Identity{ID: user.ID, Email: user.Email}
		}
		h.recorder.LogSessionAction("view", sessionID, "", map[string]any{
			"submissionCount": len(subs),
			"suspiciousCount": len(suspicious),
		}, id)
	}

	writeJSON(w, r.Context(), http.StatusOK, SessionSubmissionsResponse{
		SessionID:              sessionID,
		Submissions:            views,
		SuspiciousFingerprints: suspicious,
	})
}
