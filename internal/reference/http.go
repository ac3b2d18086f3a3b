package reference

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/util"
)

// Handler exposes one Kind under /<route>.
type Handler struct {
	service *Service
	writers []auth.Access
}

// NewHandler builds the handler. When writers is not empty, create, update and delete
// require one of those access levels.
func NewHandler(service *Service, writers ...auth.Access) *Handler {
	return &Handler{service: service, writers: writers}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/"+h.service.Kind().Route, func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)

		r.Group(func(r chi.Router) {
			if len(h.writers) > 0 {
				r.Use(middleware.RequireAccess(h.writers...))
			}
			r.Post("/", h.handleCreate)
			r.Put("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

func (h *Handler) component() string {
	return "reference." + h.service.Kind().Route
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	render.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	it, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	render.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	it, err := h.service.Create(r.Context(), in)
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	render.JSON(w, http.StatusCreated, it)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	it, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	render.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		render.DomainError(w, r, h.component(), err)
		return
	}
	render.NoContent(w)
}
