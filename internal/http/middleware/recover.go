package middleware

import (
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/repo"
)

// Recover turns a panic into a 500 with the generic message.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				render.Error(w, http.StatusInternalServerError, repo.MessageOf(nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
