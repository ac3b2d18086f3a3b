package indicator

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/util"
)

const component = "indicator"

// Handler exposes /indicator.
type Handler struct {
	service *Service
	writers []auth.Access
}

func NewHandler(service *Service, writers ...auth.Access) *Handler {
	return &Handler{service: service, writers: writers}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/indicator", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/assigned", h.handleAssigned)
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
	q := r.URL.Query()
	var f Filter
	var err error
	if f.CategoryID, err = optionalID(q.Get("categoryId")); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if f.FrequencyID, err = optionalID(q.Get("frequencyId")); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if f.UnitID, err = optionalID(q.Get("unitId")); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if f.JobTitleID, err = optionalID(q.Get("jobTitleId")); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	f.Query = q.Get("q")

	items, err := h.service.List(r.Context(), f)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleAssigned(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	items, err := h.service.ListAssigned(r.Context(), userID)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	it, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	it, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusCreated, it)
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
	it, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, it)
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

func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := util.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
