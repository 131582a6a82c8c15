package api

import (
	"errors"
	"net/http"

	"github.com/educode/educode/internal/auth"
	"github.com/educode/educode/internal/middleware"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate attaches the bearer token's user to the request context.
// Requests without an Authorization header pass through anonymously; a
// header that does not validate is rejected with 401. A nil validator
// disables authentication.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeErrorCode(w, r, ErrCodeAuthFailed, "Authorization must be a bearer token")
				return
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				message := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "Token has expired"
				}
				writeErrorCode(w, r, ErrCodeAuthFailed, message)
				return
			}

			ctx := middleware.SetUser(r.Context(), middleware.User{ID: claims.UserID(), Email: claims.Email})
			middleware.UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
