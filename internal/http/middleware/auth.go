package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/repo"
)

type contextKey string

const (
	ContextKeySubject contextKey = "subject"
	ContextKeyRoles   contextKey = "roles"
)

// SessionCookie carries the access token for browser clients that do not send an
// Authorization header.
const SessionCookie = "kpi_session"

// Auth validates the access token and puts its claims on the context.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				render.Error(w, http.StatusUnauthorized, repo.ErrUnauthorized.Message)
				return
			}

			claims, err := jwtManager.ParseAndValidate(token)
			if err != nil {
				render.Error(w, http.StatusUnauthorized, "เซสชันหมดอายุ กรุณาเข้าสู่ระบบใหม่")
				return
			}

			ctx := WithIdentity(r.Context(), claims.Subject, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// WithIdentity stores the authenticated subject and its access codes.
func WithIdentity(ctx context.Context, subject string, roles []string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, subject)
	return context.WithValue(ctx, ContextKeyRoles, roles)
}

// GetSubject returns the authenticated subject, empty when anonymous.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetRoles returns the access codes of the authenticated user.
func GetRoles(ctx context.Context) []string {
	val, _ := ctx.Value(ContextKeyRoles).([]string)
	return val
}

// SubjectID parses the subject as a user id.
func SubjectID(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(GetSubject(ctx))
	if err != nil {
		return uuid.Nil, repo.ErrUnauthorized
	}
	return id, nil
}

// RequireAccess lets the request through when any of the user's roles grants one of
// levels.
func RequireAccess(levels ...auth.Access) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, code := range GetRoles(r.Context()) {
				a, err := auth.ParseAccess(code)
				if err == nil && a.Allows(levels...) {
					next.ServeHTTP(w, r)
					return
				}
			}
			render.Error(w, http.StatusForbidden, repo.ErrForbidden.Message)
		})
	}
}
