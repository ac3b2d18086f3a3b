package indicator

import (
	"github.com/go-chi/chi/v5"
)

// Mount adds the indicator routes to r.
func Mount(r chi.Router, handler *Handler) {
	handler.RegisterRoutes(r)
}
