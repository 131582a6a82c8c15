package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/educode/educode/internal/auth"
	"github.com/educode/educode/internal/middleware"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func expiredToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "student-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewJWTService(testSecret)
	valid, err := svc.GenerateAccessToken("student-1", "s1@school.edu")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	foreign, err := auth.NewJWTService("another-secret-entirely-32-bytes!!").GenerateAccessToken("student-1", "")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantUser    string
		wantMessage string
	}{
		{"anonymous", "", http.StatusOK, "", ""},
		{"valid token", "Bearer " + valid, http.StatusOK, "student-1", ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "student-1", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "", "Authorization must be a bearer token"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "", "Invalid token"},
		{"expired", "Bearer " + expiredToken(t), http.StatusUnauthorized, "", "Token has expired"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "", "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			var reached bool
			handler := Authenticate(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				gotUser = middleware.GetUserID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				if reached {
					t.Error("rejected request reached the handler")
				}
				e := decodeError(t, w)
				if e.Code != ErrCodeAuthFailed {
					t.Errorf("error code = %s, want %s", e.Code, ErrCodeAuthFailed)
				}
				if e.Message != tt.wantMessage {
					t.Errorf("error message = %q, want %q", e.Message, tt.wantMessage)
				}
				return
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
		})
	}
}

func TestAuthenticate_NilValidator(t *testing.T) {
	handler := Authenticate(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetUserID(r.Context()); id != "" {
			t.Errorf("user = %q, want anonymous", id)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}
}
