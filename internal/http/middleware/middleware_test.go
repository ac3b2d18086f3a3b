package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/repo"
)

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subject": GetSubject(r.Context()),
			"roles":   GetRoles(r.Context()),
		})
	})
}

func TestAuthAcceptsBearerAndCookie(t *testing.T) {
	mgr := auth.NewJWTManager(strings.Repeat("x", 32), time.Minute)
	token, _, err := mgr.GenerateAccessToken("user-1", []string{"employee", "planner"})
	require.NoError(t, err)
	h := Auth(mgr)(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"user-1"`)
	assert.Contains(t, rec.Body.String(), `"roles":["employee","planner"]`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	mgr := auth.NewJWTManager(strings.Repeat("x", 32), time.Minute)
	other := auth.NewJWTManager(strings.Repeat("y", 32), time.Minute)
	forged, _, err := other.GenerateAccessToken("user-1", []string{"admin"})
	require.NoError(t, err)
	h := Auth(mgr)(echoIdentity())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), repo.ErrUnauthorized.Message)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAccess(t *testing.T) {
	h := RequireAccess(auth.AccessAdmin, auth.AccessPlanner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		roles []string
		want  int
	}{
		{[]string{"admin"}, http.StatusNoContent},
		{[]string{"employee", "planner"}, http.StatusNoContent},
		{[]string{"employee"}, http.StatusForbidden},
		{[]string{"unknown"}, http.StatusForbidden},
		{nil, http.StatusForbidden},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), tc.roles))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%v", tc.roles)
	}
}

type activeFunc func(ctx context.Context, id uuid.UUID) (bool, error)

func (f activeFunc) IsActive(ctx context.Context, id uuid.UUID) (bool, error) { return f(ctx, id) }

func TestRequireActive(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	active, disabled, gone := uuid.New(), uuid.New(), uuid.New()
	checker := activeFunc(func(ctx context.Context, id uuid.UUID) (bool, error) {
		switch id {
		case active:
			return true, nil
		case disabled:
			return false, nil
		}
		return false, repo.ErrNotFound
	})
	h := RequireActive(checker)(ok)

	for id, want := range map[uuid.UUID]int{
		active:   http.StatusOK,
		disabled: http.StatusForbidden,
		gone:     http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), id.String(), []string{"employee"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestIPRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	h := IPRateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":52100"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	limited := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	retry, err := strconv.Atoi(limited.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 1)

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://kpi.example.ac.th", "*.example.ac.th"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://kpi.example.ac.th", true},
		{"https://plan.example.ac.th", true},
		{"https://example.ac.th", false},
		{"https://evil.test", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if tc.allowed {
			assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
