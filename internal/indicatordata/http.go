package indicatordata

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/util"
)

const component = "indicator-data"

// Handler exposes /indicator-data. Writes are open to any signed-in user; whether they may
// report on an indicator is decided by their job titles.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/indicator-data", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/summary", h.handleSummary)
		r.Post("/", h.handleUpsert)
		r.Post("/batch", h.handleBatch)
	})
}

type batchResponse struct {
	Saved int      `json:"saved"`
	Items []Result `json:"items"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	var in EntryInput
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	res, err := h.service.Upsert(r.Context(), userID, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	render.JSON(w, status, res)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.SubjectID(r.Context())
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	var in BatchInput
	if err := render.Decode(r, &in); err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	results, err := h.service.UpsertBatch(r.Context(), userID, in)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, batchResponse{Saved: len(results), Items: results})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	records, err := h.service.List(r.Context(), f)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	rows, err := h.service.Summary(r.Context(), f)
	if err != nil {
		render.DomainError(w, r, component, err)
		return
	}
	render.JSON(w, http.StatusOK, rows)
}

// filter reads the query string; mine=true narrows to the caller's indicators.
func (h *Handler) filter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	for key, dst := range map[string]**uuid.UUID{
		"indicatorId": &f.IndicatorID,
		"periodId":    &f.PeriodID,
		"frequencyId": &f.FrequencyID,
		"categoryId":  &f.CategoryID,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		id, err := util.ParseID(raw)
		if err != nil {
			return Filter{}, err
		}
		*dst = &id
	}
	if q.Get("mine") == "true" {
		userID, err := middleware.SubjectID(r.Context())
		if err != nil {
			return Filter{}, err
		}
		f.ResponsibleUserID = &userID
	}
	return f, nil
}
