package frequency

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/util"
)

const component = "frequency"

// Handler exposes /frequency.
type Handler struct {
	service *Service
	writers []auth.Access
}

func NewHandler(service *Service, writers ...auth.Access) *Handler {
	return &Handler{service: service, writers: writers}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/frequency", func(r chi.Router) {
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

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	freqs, err := h.service.List(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, freqs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	f, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, f)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	f, err := h.service.Create(r.Context(), in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusCreated, f)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	f, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, f)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.NoContent(w)
}
