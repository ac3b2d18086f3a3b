package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context, kind Kind) ([]Item, error)
	Get(ctx context.Context, kind Kind, id uuid.UUID) (Item, error)
	NameTaken(ctx context.Context, kind Kind, name string, exclude *uuid.UUID) (bool, error)
	Insert(ctx context.Context, kind Kind, it Item) (Item, error)
	Update(ctx context.Context, kind Kind, it Item) (Item, error)
	CountDependents(ctx context.Context, kind Kind, id uuid.UUID) ([]int, error)
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
}

// Input is the create/update payload.
type Input struct {
	Name   string `json:"name"`
	Access string `json:"access"`
}

// SummaryInvalidator drops cached progress summaries.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context)
}

// Service applies the naming and deletion rules of one Kind.
type Service struct {
	store     Store
	kind      Kind
	summaries SummaryInvalidator
}

func NewService(store Store, kind Kind) *Service {
	return &Service{store: store, kind: kind}
}

// WithSummaryInvalidator makes writes that change progress summaries discard the cached ones.
func (s *Service) WithSummaryInvalidator(inv SummaryInvalidator) *Service {
	s.summaries = inv
	return s
}

func (s *Service) changed(ctx context.Context) {
	if s.summaries != nil {
		s.summaries.Invalidate(ctx)
	}
}

// Kind returns the entity this service manages.
func (s *Service) Kind() Kind {
	return s.kind
}

func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.store.List(ctx, s.kind)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Item, error) {
	it, err := s.store.Get(ctx, s.kind, id)
	return it, s.notFound(err)
}

func (s *Service) Create(ctx context.Context, in Input) (Item, error) {
	it, err := s.clean(in)
	if err != nil {
		return Item{}, err
	}
	if err := s.ensureUnique(ctx, it.Name, nil); err != nil {
		return Item{}, err
	}

	created, err := s.store.Insert(ctx, s.kind, it)
	if err != nil {
		return Item{}, s.conflict(err)
	}

	log.Info().Str("kind", s.kind.Route).Str("id", created.ID.String()).Msg("reference created")
	return created, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Item, error) {
	it, err := s.clean(in)
	if err != nil {
		return Item{}, err
	}
	current, err := s.store.Get(ctx, s.kind, id)
	if err != nil {
		return Item{}, s.notFound(err)
	}
	if err := s.ensureUnique(ctx, it.Name, &id); err != nil {
		return Item{}, err
	}

	it.ID = id
	updated, err := s.store.Update(ctx, s.kind, it)
	if err != nil {
		return Item{}, s.conflict(s.notFound(err))
	}
	updated.UsageCount = current.UsageCount
	s.changed(ctx)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.Get(ctx, s.kind, id); err != nil {
		return s.notFound(err)
	}

	counts, err := s.store.CountDependents(ctx, s.kind, id)
	if err != nil {
		return err
	}
	for i, n := range counts {
		if n > 0 {
			return repo.InUse(fmt.Sprintf("ไม่สามารถลบ%sได้ เนื่องจากมี%sที่เกี่ยวข้องอยู่ %d รายการ",
				s.kind.Label, s.kind.Dependents[i].Label, n))
		}
	}

	if err := s.store.Delete(ctx, s.kind, id); err != nil {
		// a dependent inserted after the count still trips the foreign key
		return repo.ClassifyAs(s.notFound(err), map[repo.Kind]string{
			repo.KindInUse: fmt.Sprintf("ไม่สามารถลบ%sได้ เนื่องจากมีข้อมูลที่เกี่ยวข้อง", s.kind.Label),
		})
	}

	s.changed(ctx)
	log.Info().Str("kind", s.kind.Route).Str("id", id.String()).Msg("reference deleted")
	return nil
}

func (s *Service) clean(in Input) (Item, error) {
	name, err := util.CleanName(in.Name, "ชื่อ"+s.kind.Label)
	if err != nil {
		return Item{}, err
	}
	it := Item{Name: name}

	if s.kind.HasAccess {
		code := strings.TrimSpace(in.Access)
		if code == "" {
			code = auth.AccessEmployee.String()
		}
		access, err := auth.ParseAccess(code)
		if err != nil {
			return Item{}, repo.Validation("ระดับสิทธิ์ไม่ถูกต้อง")
		}
		it.Access = access.String()
	}
	return it, nil
}

func (s *Service) ensureUnique(ctx context.Context, name string, exclude *uuid.UUID) error {
	taken, err := s.store.NameTaken(ctx, s.kind, name, exclude)
	if err != nil {
		return err
	}
	if taken {
		return s.duplicate()
	}
	return nil
}

func (s *Service) duplicate() error {
	return repo.Conflict(fmt.Sprintf("ชื่อ%sนี้มีอยู่แล้ว", s.kind.Label))
}

func (s *Service) notFound(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindNotFound {
		return repo.NotFound("ไม่พบ" + s.kind.Label)
	}
	return err
}

// conflict rewrites a unique-index violation that slipped past the pre-check.
func (s *Service) conflict(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindConflict {
		return s.duplicate()
	}
	return err
}
