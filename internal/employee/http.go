package employee

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/util"
)

const component = "employee"

// Handler exposes /employee.
type Handler struct {
	service *Service
	writers []auth.Access
}

func NewHandler(service *Service, writers ...auth.Access) *Handler {
	return &Handler{service: service, writers: writers}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/employee", func(r chi.Router) {
		r.Get("/me", h.handleMe)
		r.Put("/me/password", h.handleChangePassword)

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
	q := r.URL.Query()
	var f Filter
	var err error
	if f.DepartmentID, err = optionalID(q.Get("departmentId")); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if f.RoleID, err = optionalID(q.Get("roleId")); err != nil {
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

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	var in PasswordInput
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), id, in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.NoContent(w)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	e, err := h.service.Create(r.Context(), in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusCreated, e)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
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
	e, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	id, err := util.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
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
