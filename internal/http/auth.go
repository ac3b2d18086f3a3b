package http

import (
	"errors"
	"net/http"
	"time"

	httpmiddleware "github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/service"
)

const (
	refreshCookie     = "kpi_refresh"
	refreshCookiePath = "/api/auth"
	authComponent     = "auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	service.Session
}

// Login checks credentials and sets the session and refresh cookies.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := render.Decode(r, &payload); err != nil {
		render.DomainError(w, r, authComponent, err)
		return
	}

	result, err := h.auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		render.DomainError(w, r, authComponent, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Refresh rotates the refresh token taken from the cookie or the body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshFromRequest(r)
	result, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalid) {
			h.clearCookies(w)
		}
		render.DomainError(w, r, authComponent, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Logout revokes the refresh token and clears the cookies. It always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := refreshFromRequest(r); token != "" {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			render.DomainError(w, r, authComponent, err)
			return
		}
	}

	h.clearCookies(w)
	render.NoContent(w)
}

// Session returns the signed-in user with the page the client should land on.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	userID, err := httpmiddleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, authComponent, err)
		return
	}

	session, err := h.auth.Session(r.Context(), userID)
	if err != nil {
		render.DomainError(w, r, authComponent, err)
		return
	}
	render.JSON(w, http.StatusOK, session)
}

func (h *Handler) writeLoginSuccess(w http.ResponseWriter, result *service.LoginResult) {
	ttl := h.auth.AccessTTL()
	h.setCookie(w, httpmiddleware.SessionCookie, result.AccessToken, "/", time.Now().Add(ttl))
	h.setCookie(w, refreshCookie, result.RefreshToken, refreshCookiePath, result.RefreshExpiry)

	render.JSON(w, http.StatusOK, sessionResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   int64(ttl.Seconds()),
		Session:     result.Session,
	})
}

func refreshFromRequest(r *http.Request) string {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var payload refreshRequest
	if err := render.Decode(r, &payload); err != nil {
		return ""
	}
	return payload.RefreshToken
}

func (h *Handler) sameSite() http.SameSite {
	if h.cookieSecure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value, path string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{httpmiddleware.SessionCookie, "/"},
		{refreshCookie, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cookieSecure,
			SameSite: h.sameSite(),
		})
	}
}
