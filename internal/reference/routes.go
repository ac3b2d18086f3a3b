package reference

import (
	"github.com/go-chi/chi/v5"
)

// Mount adds the routes of every handler to r.
func Mount(r chi.Router, handlers ...*Handler) {
	for _, h := range handlers {
		h.RegisterRoutes(r)
	}
}
