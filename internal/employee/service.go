package employee

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context, f Filter) ([]Employee, error)
	Get(ctx context.Context, id uuid.UUID) (Employee, error)
	EmailTaken(ctx context.Context, email string, exclude *uuid.UUID) (bool, error)
	MissingRefs(ctx context.Context, d Draft) ([]string, error)
	Create(ctx context.Context, d Draft) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, d Draft) error
	PasswordHash(ctx context.Context, id uuid.UUID) (string, error)
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

var (
	errEmailTaken     = repo.Conflict("อีเมลนี้ถูกใช้งานแล้ว")
	errDeleteSelf     = repo.Validation("ไม่สามารถลบบัญชีของตนเองได้")
	errDeactivateSelf = repo.Validation("ไม่สามารถระงับบัญชีของตนเองได้")
	errWrongPassword  = repo.Validation("รหัสผ่านปัจจุบันไม่ถูกต้อง")
)

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

// WithSummaryInvalidator discards cached summaries when job title assignments change.
func (s *Service) WithSummaryInvalidator(inv SummaryInvalidator) *Service {
	s.summaries = inv
	return s
}

func (s *Service) changed(ctx context.Context) {
	if s.summaries != nil {
		s.summaries.Invalidate(ctx)
	}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Employee, error) {
	f.Query = strings.TrimSpace(f.Query)
	return s.store.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Employee, error) {
	e, err := s.store.Get(ctx, id)
	return e, notFound(err)
}

func (s *Service) Create(ctx context.Context, in Input) (Employee, error) {
	d, err := s.draft(ctx, in, nil)
	if err != nil {
		return Employee{}, err
	}
	if err := util.ValidatePassword(in.Password); err != nil {
		return Employee{}, err
	}
	if d.PasswordHash, err = auth.Hash(in.Password); err != nil {
		return Employee{}, err
	}

	id, err := s.store.Create(ctx, d)
	if err != nil {
		return Employee{}, conflict(err)
	}

	log.Info().Str("user_id", id.String()).Msg("employee created")
	return s.store.Get(ctx, id)
}

// Update rewrites the account of id on behalf of actor. Links are replaced, and the
// password only changes when a new one is given.
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, in Input) (Employee, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Employee{}, notFound(err)
	}

	d, err := s.draft(ctx, in, &id)
	if err != nil {
		return Employee{}, err
	}
	if in.Active == nil {
		d.Active = current.Active
	}
	if actor == id && !d.Active {
		return Employee{}, errDeactivateSelf
	}
	if in.Password != "" {
		if err := util.ValidatePassword(in.Password); err != nil {
			return Employee{}, err
		}
		if d.PasswordHash, err = auth.Hash(in.Password); err != nil {
			return Employee{}, err
		}
	}

	if err := s.store.Update(ctx, id, d); err != nil {
		return Employee{}, notFound(conflict(err))
	}

	s.changed(ctx)
	log.Info().Str("user_id", id.String()).Str("actor", actor.String()).Msg("employee updated")
	return s.store.Get(ctx, id)
}

// Delete removes id. Nobody can delete their own account.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	if actor == id {
		return errDeleteSelf
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.changed(ctx)
	log.Info().Str("user_id", id.String()).Str("actor", actor.String()).Msg("employee deleted")
	return nil
}

// ChangePassword replaces the password of id after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, in PasswordInput) error {
	if err := util.Struct(in); err != nil {
		return err
	}
	if err := util.ValidatePassword(in.NewPassword); err != nil {
		return err
	}

	current, err := s.store.PasswordHash(ctx, id)
	if err != nil {
		return notFound(err)
	}
	ok, err := auth.Verify(in.CurrentPassword, current)
	if err != nil || !ok {
		return errWrongPassword
	}

	hash, err := auth.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	return notFound(s.store.SetPassword(ctx, id, hash))
}

func (s *Service) draft(ctx context.Context, in Input, exclude *uuid.UUID) (Draft, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.RoleIDs = util.UniqueIDs(in.RoleIDs)
	in.JobTitleIDs = util.UniqueIDs(in.JobTitleIDs)
	if err := util.Struct(in); err != nil {
		return Draft{}, err
	}
	if err := util.ValidateEmail(in.Email); err != nil {
		return Draft{}, err
	}

	d := Draft{
		Name:         in.Name,
		Email:        in.Email,
		DepartmentID: in.DepartmentID,
		Active:       in.Active == nil || *in.Active,
		RoleIDs:      in.RoleIDs,
		JobTitleIDs:  in.JobTitleIDs,
	}
	if d.DepartmentID != nil && *d.DepartmentID == uuid.Nil {
		d.DepartmentID = nil
	}

	taken, err := s.store.EmailTaken(ctx, d.Email, exclude)
	if err != nil {
		return Draft{}, err
	}
	if taken {
		return Draft{}, errEmailTaken
	}

	missing, err := s.store.MissingRefs(ctx, d)
	if err != nil {
		return Draft{}, err
	}
	if len(missing) > 0 {
		return Draft{}, repo.Validation("ไม่พบ" + strings.Join(missing, ", ") + "ที่ระบุ")
	}
	return d, nil
}

func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return repo.NotFound("ไม่พบบุคลากร")
	}
	return err
}

func conflict(err error) error {
	return repo.ClassifyAs(err, map[repo.Kind]string{
		repo.KindConflict: repo.MessageOf(errEmailTaken),
	})
}
