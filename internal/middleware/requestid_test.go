package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantKeep bool
	}{
		{"generated when missing", "", false},
		{"client id kept", "editor-7f3a", true},
		{"control characters replaced", "abc\ninjected", false},
		{"spaces replaced", "abc def", false},
		{"punctuation replaced", "test@#$%^&*()", false},
		{"uuid kept", "550e8400-e29b-41d4-a716-446655440000", true},
		{"oversized id replaced", strings.Repeat("a", maxRequestIDLength+1), false},
		{"max length kept", strings.Repeat("a", maxRequestIDLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromCtx string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromCtx = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/logs", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if got != fromCtx {
				t.Errorf("header %q and context %q differ", got, fromCtx)
			}
			if tt.wantKeep {
				if got != tt.header {
					t.Errorf("request ID = %q, want %q", got, tt.header)
				}
				return
			}
			id, err := uuid.Parse(got)
			if err != nil {
				t.Fatalf("generated ID %q is not a UUID: %v", got, err)
			}
			if id.Version() != 7 {
				t.Errorf("generated ID version = %d, want 7", id.Version())
			}
		})
	}
}

func TestGetRequestID_EmptyContextReturnsEmptyString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestUpgradeHeader(t *testing.T) {
	var got http.Header
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UpgradeHeader(w)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/watch", nil)
	req.Header.Set(RequestIDHeader, "watch-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Get(RequestIDHeader) != "watch-1" {
		t.Errorf("UpgradeHeader() %s = %q, want watch-1", RequestIDHeader, got.Get(RequestIDHeader))
	}

	if h := UpgradeHeader(httptest.NewRecorder()); len(h) != 0 {
		t.Errorf("UpgradeHeader() without request ID = %v, want empty", h)
	}
}
