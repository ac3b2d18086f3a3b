package indicator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context, f Filter) ([]Indicator, error)
	ListAssigned(ctx context.Context, userID uuid.UUID) ([]Indicator, error)
	Get(ctx context.Context, id uuid.UUID) (Indicator, error)
	NamesTaken(ctx context.Context, names []string, exclude []uuid.UUID) ([]string, error)
	MissingRefs(ctx context.Context, refs Refs) ([]string, error)
	HasData(ctx context.Context, ids []uuid.UUID) (bool, error)
	Create(ctx context.Context, d Draft) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, d Draft) error
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

// WithSummaryInvalidator makes every successful write discard cached summaries.
func (s *Service) WithSummaryInvalidator(inv SummaryInvalidator) *Service {
	s.summaries = inv
	return s
}

func (s *Service) changed(ctx context.Context) {
	if s.summaries != nil {
		s.summaries.Invalidate(ctx)
	}
}

var (
	errNotFound       = repo.NotFound("ไม่พบตัวชี้วัด")
	errParentNotFound = repo.Validation("ไม่พบตัวชี้วัดหลัก")
	errTooDeep        = repo.Validation("ตัวชี้วัดย่อยไม่สามารถมีตัวชี้วัดย่อยได้")
)

func (s *Service) List(ctx context.Context, f Filter) ([]Indicator, error) {
	f.Query = strings.TrimSpace(f.Query)
	return s.store.List(ctx, f)
}

func (s *Service) ListAssigned(ctx context.Context, userID uuid.UUID) ([]Indicator, error) {
	return s.store.ListAssigned(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Indicator, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return Indicator{}, notFound(err)
	}
	return it, nil
}

// Create validates the payload and writes the indicator with its sub-indicators.
func (s *Service) Create(ctx context.Context, creator uuid.UUID, in Input) (Indicator, error) {
	normalize(&in)
	if err := util.Struct(in); err != nil {
		return Indicator{}, err
	}
	for _, c := range in.SubIndicators {
		if c.ID != nil {
			return Indicator{}, repo.Validation("ตัวชี้วัดย่อยใหม่ต้องไม่ระบุรหัส")
		}
	}

	d, err := s.draft(ctx, in, nil)
	if err != nil {
		return Indicator{}, err
	}
	if creator != uuid.Nil {
		d.CreatedBy = &creator
	}
	if err := s.ensureNamesFree(ctx, d, nil); err != nil {
		return Indicator{}, err
	}

	id, err := s.store.Create(ctx, d)
	if err != nil {
		return Indicator{}, conflict(err)
	}
	s.changed(ctx)
	log.Info().
		Str("indicator_id", id.String()).
		Int("sub_indicators", len(d.Children)).
		Msg("indicator created")
	return s.Get(ctx, id)
}

// Update rewrites an indicator. For a top-level indicator the submitted sub-indicators
// replace the stored ones: entries with an id are updated, new ones inserted and the rest
// removed. A sub-indicator that already holds values cannot be removed this way. Omitted
// subIndicators or jobTitleIds keep the stored ones.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Indicator, error) {
	normalize(&in)
	if err := util.Struct(in); err != nil {
		return Indicator{}, err
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Indicator{}, notFound(err)
	}
	if in.ParentID != nil && *in.ParentID == id {
		return Indicator{}, repo.Validation("ตัวชี้วัดไม่สามารถเป็นตัวชี้วัดหลักของตัวเองได้")
	}
	if in.ParentID != nil && len(current.SubIndicators) > 0 {
		return Indicator{}, repo.Validation("ตัวชี้วัดที่มีตัวชี้วัดย่อยไม่สามารถเป็นตัวชี้วัดย่อยได้")
	}

	if in.ParentID == nil && in.SubIndicators == nil {
		in.SubIndicators = keepChildren(current.SubIndicators)
	}
	if in.ParentID == nil && current.ParentID == nil && in.JobTitleIDs == nil {
		in.JobTitleIDs = current.JobTitleIDs()
	}

	stored := make(map[uuid.UUID]bool, len(current.SubIndicators))
	for _, c := range current.SubIndicators {
		stored[c.ID] = true
	}
	submitted := make(map[uuid.UUID]bool, len(in.SubIndicators))
	for _, c := range in.SubIndicators {
		if c.ID != nil && !stored[*c.ID] {
			return Indicator{}, repo.Validation(fmt.Sprintf("ไม่พบตัวชี้วัดย่อย \"%s\" ในตัวชี้วัดนี้", c.Name))
		}
		if c.ID != nil {
			submitted[*c.ID] = true
		}
	}
	if in.ParentID == nil {
		for _, c := range current.SubIndicators {
			if submitted[c.ID] {
				continue
			}
			has, err := s.store.HasData(ctx, []uuid.UUID{c.ID})
			if err != nil {
				return Indicator{}, err
			}
			if has {
				return Indicator{}, repo.InUse(fmt.Sprintf("ไม่สามารถลบตัวชี้วัดย่อย \"%s\" ได้ เนื่องจากมีข้อมูลผลการดำเนินงานแล้ว", c.Name))
			}
		}
	}

	d, err := s.draft(ctx, in, &current)
	if err != nil {
		return Indicator{}, err
	}

	if d.FrequencyID != current.FrequencyID {
		ids := []uuid.UUID{id}
		for _, c := range current.SubIndicators {
			ids = append(ids, c.ID)
		}
		has, err := s.store.HasData(ctx, ids)
		if err != nil {
			return Indicator{}, err
		}
		if has {
			return Indicator{}, repo.Validation("ไม่สามารถเปลี่ยนความถี่การรายงานได้ เนื่องจากมีข้อมูลผลการดำเนินงานแล้ว")
		}
	}

	exclude := []uuid.UUID{id}
	for _, c := range current.SubIndicators {
		exclude = append(exclude, c.ID)
	}
	if err := s.ensureNamesFree(ctx, d, exclude); err != nil {
		return Indicator{}, err
	}

	if err := s.store.Update(ctx, id, d); err != nil {
		return Indicator{}, conflict(notFound(err))
	}
	s.changed(ctx)
	log.Info().Str("indicator_id", id.String()).Msg("indicator updated")
	return s.Get(ctx, id)
}

// Delete removes the indicator together with its sub-indicators and submitted values.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.changed(ctx)
	log.Info().Str("indicator_id", id.String()).Msg("indicator deleted")
	return nil
}

// draft resolves the payload into a Draft. current is the stored indicator on update.
func (s *Service) draft(ctx context.Context, in Input, current *Indicator) (Draft, error) {
	if !in.TargetValue.Set {
		return Draft{}, repo.Validation("กรุณาระบุค่าเป้าหมาย")
	}

	d := Draft{
		Name:        in.Name,
		Description: in.Description,
		TargetValue: in.TargetValue.Value,
		ParentID:    in.ParentID,
	}

	if in.ParentID != nil {
		if len(in.SubIndicators) > 0 {
			return Draft{}, errTooDeep
		}
		parent, err := s.store.Get(ctx, *in.ParentID)
		if err != nil {
			if repo.KindOf(repo.Classify(err)) == repo.KindNotFound {
				return Draft{}, errParentNotFound
			}
			return Draft{}, err
		}
		if parent.ParentID != nil {
			return Draft{}, errTooDeep
		}
		d.CategoryID, d.UnitID, d.FrequencyID = parent.CategoryID, parent.UnitID, parent.FrequencyID

		switch {
		case in.Position != nil:
			d.Position = *in.Position
		case current != nil && current.ParentID != nil && *current.ParentID == parent.ID:
			d.Position = current.Position
		default:
			d.Position = len(parent.SubIndicators) + 1
		}
		return d, nil
	}

	jobTitles := util.UniqueIDs(in.JobTitleIDs)
	if len(jobTitles) == 0 {
		return Draft{}, repo.Validation("กรุณาเลือกตำแหน่งผู้รับผิดชอบอย่างน้อย 1 ตำแหน่ง")
	}
	missing, err := s.store.MissingRefs(ctx, Refs{
		CategoryID:  in.CategoryID,
		UnitID:      in.UnitID,
		FrequencyID: in.FrequencyID,
		JobTitleIDs: jobTitles,
	})
	if err != nil {
		return Draft{}, err
	}
	if len(missing) > 0 {
		return Draft{}, repo.Validation("ไม่พบ" + strings.Join(missing, ", ") + " ที่เลือก")
	}

	d.CategoryID, d.UnitID, d.FrequencyID = in.CategoryID, in.UnitID, in.FrequencyID
	d.JobTitleIDs = jobTitles
	if in.Position != nil {
		d.Position = *in.Position
	}

	d.Children = make([]ChildDraft, 0, len(in.SubIndicators))
	for i, c := range in.SubIndicators {
		if !c.TargetValue.Set {
			return Draft{}, repo.Validation(fmt.Sprintf("ตัวชี้วัดย่อยที่ %d: กรุณาระบุค่าเป้าหมาย", i+1))
		}
		pos := i + 1
		if c.Position != nil {
			pos = *c.Position
		}
		d.Children = append(d.Children, ChildDraft{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			TargetValue: c.TargetValue.Value,
			Position:    pos,
		})
	}
	return d, nil
}

// ensureNamesFree rejects names repeated inside the draft or used by another indicator.
func (s *Service) ensureNamesFree(ctx context.Context, d Draft, exclude []uuid.UUID) error {
	names := []string{d.Name}
	seen := map[string]bool{strings.ToLower(d.Name): true}
	for _, c := range d.Children {
		key := strings.ToLower(c.Name)
		if seen[key] {
			return repo.Conflict(fmt.Sprintf("ชื่อตัวชี้วัด \"%s\" ซ้ำกัน", c.Name))
		}
		seen[key] = true
		names = append(names, c.Name)
	}

	taken, err := s.store.NamesTaken(ctx, names, exclude)
	if err != nil {
		return err
	}
	if len(taken) > 0 {
		return repo.Conflict(fmt.Sprintf("ชื่อตัวชี้วัด \"%s\" มีอยู่แล้ว", taken[0]))
	}
	return nil
}

// keepChildren turns stored sub-indicators back into input, used when an update omits
// the subIndicators field.
func keepChildren(children []Indicator) []ChildInput {
	out := make([]ChildInput, 0, len(children))
	for _, c := range children {
		id, pos := c.ID, c.Position
		out = append(out, ChildInput{
			ID:          &id,
			Name:        c.Name,
			Description: c.Description,
			TargetValue: util.Number{Value: c.TargetValue, Set: true},
			Position:    &pos,
		})
	}
	return out
}

func normalize(in *Input) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	for i := range in.SubIndicators {
		in.SubIndicators[i].Name = strings.TrimSpace(in.SubIndicators[i].Name)
		in.SubIndicators[i].Description = strings.TrimSpace(in.SubIndicators[i].Description)
	}
}

func notFound(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindNotFound {
		return errNotFound
	}
	return err
}

func conflict(err error) error {
	if err != nil && repo.KindOf(repo.Classify(err)) == repo.KindConflict {
		return repo.Conflict("ชื่อตัวชี้วัดนี้มีอยู่แล้ว")
	}
	return err
}
