package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/repo"
)

// ActiveChecker reports whether a user account may still act.
type ActiveChecker interface {
	IsActive(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RequireActive rejects tokens of users that were deactivated or deleted after the token
// was issued.
func RequireActive(checker ActiveChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := SubjectID(r.Context())
			if err != nil {
				render.Error(w, http.StatusUnauthorized, repo.ErrUnauthorized.Message)
				return
			}

			active, err := checker.IsActive(r.Context(), userID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					render.Error(w, http.StatusUnauthorized, repo.ErrUnauthorized.Message)
					return
				}
				render.DomainError(w, r, "middleware.active", err)
				return
			}
			if !active {
				render.Error(w, http.StatusForbidden, "บัญชีผู้ใช้ถูกระงับ")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
