package frequency

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/period"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context) ([]Frequency, error)
	Get(ctx context.Context, id uuid.UUID) (Frequency, error)
	NameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error)
	Create(ctx context.Context, name string, periods []period.Range) (uuid.UUID, error)
	Save(ctx context.Context, id uuid.UUID, name string, plan Plan) error
	PeriodsWithData(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SummaryInvalidator drops cached progress summaries.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context)
}

type Service struct {
	store     Store
	summaries SummaryInvalidator
}

func NewService(store Store) *Service {
	return &Service{store: store}
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

func (s *Service) List(ctx context.Context) ([]Frequency, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Frequency, error) {
	f, err := s.store.Get(ctx, id)
	return f, notFound(err)
}

func (s *Service) Create(ctx context.Context, in Input) (Frequency, error) {
	name, ranges, err := clean(in)
	if err != nil {
		return Frequency{}, err
	}
	for _, r := range ranges {
		if r.ID != nil {
			return Frequency{}, repo.Validation("รอบการรายงานใหม่ต้องไม่ระบุรหัส")
		}
	}
	if err := s.ensureUnique(ctx, name, nil); err != nil {
		return Frequency{}, err
	}

	id, err := s.store.Create(ctx, name, ranges)
	if err != nil {
		return Frequency{}, conflict(err)
	}
	log.Info().Str("frequency_id", id.String()).Int("periods", len(ranges)).Msg("frequency created")
	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Frequency, error) {
	name, ranges, err := clean(in)
	if err != nil {
		return Frequency{}, err
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Frequency{}, notFound(err)
	}
	if err := s.ensureUnique(ctx, name, &id); err != nil {
		return Frequency{}, err
	}

	plan, err := PlanPeriods(current.Periods, ranges)
	if err != nil {
		return Frequency{}, err
	}
	if err := s.ensureRemovable(ctx, current.Periods, plan.Delete); err != nil {
		return Frequency{}, err
	}

	if err := s.store.Save(ctx, id, name, plan); err != nil {
		return Frequency{}, repo.ClassifyAs(conflict(notFound(err)), map[repo.Kind]string{
			repo.KindInUse: "ไม่สามารถลบรอบการรายงานที่มีข้อมูลผลการดำเนินงานแล้ว",
		})
	}
	s.changed(ctx)
	log.Info().
		Str("frequency_id", id.String()).
		Int("inserted", len(plan.Insert)).
		Int("updated", len(plan.Update)).
		Int("deleted", len(plan.Delete)).
		Msg("frequency updated")
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	f, err := s.store.Get(ctx, id)
	if err != nil {
		return notFound(err)
	}
	if f.IndicatorCount > 0 {
		return repo.InUse(fmt.Sprintf("ไม่สามารถลบความถี่การรายงานได้ เนื่องจากมีตัวชี้วัดที่ใช้งานอยู่ %d รายการ", f.IndicatorCount))
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return repo.ClassifyAs(notFound(err), map[repo.Kind]string{
			repo.KindInUse: "ไม่สามารถลบความถี่การรายงานได้ เนื่องจากมีข้อมูลที่เกี่ยวข้อง",
		})
	}
	s.changed(ctx)
	log.Info().Str("frequency_id", id.String()).Msg("frequency deleted")
	return nil
}

// PlanPeriods matches the submitted ranges against the stored periods: ranges with an id
// update that period, ranges without one are inserted and stored periods that were not
// submitted are deleted.
func PlanPeriods(current []Period, next []period.Range) (Plan, error) {
	stored := make(map[uuid.UUID]bool, len(current))
	for _, p := range current {
		stored[p.ID] = true
	}

	var plan Plan
	seen := make(map[uuid.UUID]bool, len(next))
	for _, r := range next {
		if r.ID == nil {
			plan.Insert = append(plan.Insert, r)
			continue
		}
		if !stored[*r.ID] {
			return Plan{}, repo.Validation("ไม่พบรอบการรายงานที่ต้องการแก้ไขในความถี่นี้")
		}
		if seen[*r.ID] {
			return Plan{}, repo.Validation("ระบุรอบการรายงานซ้ำกัน")
		}
		seen[*r.ID] = true
		plan.Update = append(plan.Update, r)
	}
	for _, p := range current {
		if !seen[p.ID] {
			plan.Delete = append(plan.Delete, p.ID)
		}
	}
	return plan, nil
}

func (s *Service) ensureRemovable(ctx context.Context, current []Period, ids []uuid.UUID) error {
	used, err := s.store.PeriodsWithData(ctx, ids)
	if err != nil {
		return err
	}
	if len(used) == 0 {
		return nil
	}
	names := make(map[uuid.UUID]string, len(current))
	for _, p := range current {
		names[p.ID] = p.Name
	}
	labels := make([]string, 0, len(used))
	for _, id := range used {
		labels = append(labels, names[id])
	}
	return repo.InUse("ไม่สามารถลบรอบการรายงานที่มีข้อมูลผลการดำเนินงานแล้ว: " + strings.Join(labels, ", "))
}

func (s *Service) ensureUnique(ctx context.Context, name string, exclude *uuid.UUID) error {
	taken, err := s.store.NameTaken(ctx, name, exclude)
	if err != nil {
		return err
	}
	if taken {
		return errDuplicate
	}
	return nil
}

func clean(in Input) (string, []period.Range, error) {
	name, err := util.CleanName(in.Name, "ชื่อความถี่การรายงาน")
	if err != nil {
		return "", nil, err
	}

	ranges := make([]period.Range, 0, len(in.Periods))
	for i, p := range in.Periods {
		start, err := period.NormalizeDate(p.StartDate)
		if err != nil {
			return "", nil, repo.Validation(fmt.Sprintf("รอบที่ %d: %s", i+1, repo.MessageOf(err)))
		}
		end, err := period.NormalizeDate(p.EndDate)
		if err != nil {
			return "", nil, repo.Validation(fmt.Sprintf("รอบที่ %d: %s", i+1, repo.MessageOf(err)))
		}
		ranges = append(ranges, period.Range{ID: p.ID, Name: strings.TrimSpace(p.Name), Start: start, End: end})
	}

	sorted, err := period.Validate(ranges)
	if err != nil {
		return "", nil, err
	}
	for i := range sorted {
		if sorted[i].Name == "" {
			sorted[i].Name = fmt.Sprintf("รอบที่ %d", i+1)
		}
	}
	return name, sorted, nil
}

var errDuplicate = repo.Conflict("ชื่อความถี่การรายงานนี้มีอยู่แล้ว")

func notFound(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindNotFound {
		return repo.NotFound("ไม่พบความถี่การรายงาน")
	}
	return err
}

func conflict(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindConflict {
		return errDuplicate
	}
	return err
}
