package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/educode/educode/internal/activity"
)

func newPreviewLogger(t *testing.T, host string) *activity.Logger {
	t.Helper()
	l := activity.New(activity.Options{
		Host:            host,
		DisableIPLookup: true,
		Console:         activity.NewConsole(io.Discard, false),
	})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestPreviewLogs_GetAndClear(t *testing.T) {
	logger := newPreviewLogger(t, "localhost")
	logger.Log(activity.ActionAuthLogin, map[string]any{"email": "ana@school.edu"}, nil, "/login")
	logger.LogNavigation("/login", "/classes", nil)

	h := NewPreviewHandlers(logger)

	w := httptest.NewRecorder()
	h.PreviewLogs(w, httptest.NewRequest(http.MethodGet, "/api/preview-logs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp PreviewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Mode != "LOCAL_DEV" {
		t.Errorf("mode = %s, want LOCAL_DEV", resp.Mode)
	}
	if resp.SessionID != logger.SessionID() {
		t.Errorf("session_id = %s, want %s", resp.SessionID, logger.SessionID())
	}
	if resp.Count != 2 || resp.Logs[0].Action != activity.ActionAuthLogin || resp.Logs[1].Action != activity.ActionNavigation {
		t.Errorf("logs = %+v, want login then navigation", resp.Logs)
	}

	w = httptest.NewRecorder()
	h.PreviewLogs(w, httptest.NewRequest(http.MethodDelete, "/api/preview-logs", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if got := logger.PreviewLogs(context.Background()); len(got) != 0 {
		t.Errorf("preview logs after clear = %d, want 0", len(got))
	}
}

func TestPreviewLogs_HostedIsEmpty(t *testing.T) {
	logger := newPreviewLogger(t, "educode.dev")
	logger.Log(activity.ActionAuthLogin, nil, nil, "")

	w := httptest.NewRecorder()
	NewPreviewHandlers(logger).PreviewLogs(w, httptest.NewRequest(http.MethodGet, "/api/preview-logs", nil))

	var resp PreviewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Mode != "HOSTED" {
		t.Errorf("mode = %s, want HOSTED", resp.Mode)
	}
	if resp.Logs == nil || len(resp.Logs) != 0 {
		t.Errorf("logs = %v, want empty list", resp.Logs)
	}
}

func TestPreviewLogs_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	NewPreviewHandlers(newPreviewLogger(t, "localhost")).PreviewLogs(w, httptest.NewRequest(http.MethodPost, "/api/preview-logs", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}
