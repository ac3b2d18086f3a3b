package indicatordata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/util"
)

// Querier is the set of reads and writes an upsert performs, all inside one transaction.
type Querier interface {
	Indicator(ctx context.Context, id uuid.UUID) (Target, error)
	PeriodFrequency(ctx context.Context, periodID uuid.UUID) (uuid.UUID, error)
	UserJobTitles(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Upsert(ctx context.Context, e Entry) (Result, error)
}

// Store is the persistence the service needs.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Summary(ctx context.Context, f Filter) ([]SummaryRow, error)
}

var (
	errIndicatorNotFound = repo.NotFound("ไม่พบตัวชี้วัด")
	errPeriodNotFound    = repo.NotFound("ไม่พบรอบการรายงาน")
	errPeriodMismatch    = repo.Validation("รอบการรายงานไม่ตรงกับความถี่ของตัวชี้วัด")
	errNotResponsible    = repo.Forbidden("คุณไม่ได้รับผิดชอบตัวชี้วัดนี้")
)

type Service struct {
	store Store
	cache *summaryCache
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithCache keeps summary results in c for ttl.
func (s *Service) WithCache(c Cache, ttl time.Duration) *Service {
	s.cache = &summaryCache{client: c, ttl: ttl}
	return s
}

// Upsert records or overwrites the value of one (indicator, period) pair.
func (s *Service) Upsert(ctx context.Context, userID uuid.UUID, in EntryInput) (Result, error) {
	entry, err := clean(userID, in)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, q Querier) error {
		jobTitles, err := q.UserJobTitles(ctx, userID)
		if err != nil {
			return err
		}
		res, err = apply(ctx, q, jobTitles, entry)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	s.invalidate(ctx)

	log.Info().
		Str("indicator_id", entry.IndicatorID.String()).
		Str("period_id", entry.PeriodID.String()).
		Bool("created", res.Created).
		Msg("indicator value saved")
	return res, nil
}

// UpsertBatch applies every entry in one transaction. The first failing entry aborts the
// batch and nothing is written.
func (s *Service) UpsertBatch(ctx context.Context, userID uuid.UUID, in BatchInput) ([]Result, error) {
	if err := util.Struct(in); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(in.Entries))
	seen := make(map[[2]uuid.UUID]int, len(in.Entries))
	for i, e := range in.Entries {
		entry, err := clean(userID, e)
		if err != nil {
			return nil, atEntry(i, err)
		}
		key := [2]uuid.UUID{entry.IndicatorID, entry.PeriodID}
		if first, dup := seen[key]; dup {
			return nil, repo.Validation(fmt.Sprintf("รายการที่ %d ซ้ำกับรายการที่ %d", i+1, first+1))
		}
		seen[key] = i
		entries[i] = entry
	}

	results := make([]Result, 0, len(entries))
	err := s.store.WithTx(ctx, func(ctx context.Context, q Querier) error {
		jobTitles, err := q.UserJobTitles(ctx, userID)
		if err != nil {
			return err
		}
		for i, entry := range entries {
			res, err := apply(ctx, q, jobTitles, entry)
			if err != nil {
				return atEntry(i, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Int("entries", len(entries)).Msg("indicator batch rolled back")
		return nil, err
	}
	s.invalidate(ctx)

	log.Info().Str("user_id", userID.String()).Int("entries", len(results)).Msg("indicator batch saved")
	return results, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.store.List(ctx, f)
}

// Summary reports, per indicator, the latest value against the target.
func (s *Service) Summary(ctx context.Context, f Filter) ([]SummaryRow, error) {
	var key string
	cached := false
	if s.cache != nil {
		key, cached = s.cache.key(ctx, f)
		if cached {
			if rows, ok := s.cache.get(ctx, key); ok {
				return rows, nil
			}
		}
	}

	rows, err := s.store.Summary(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Achievement = Achievement(rows[i].LatestValue, rows[i].TargetValue)
	}

	if cached {
		s.cache.put(ctx, key, rows)
	}
	return rows, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.invalidate(ctx)
	}
}

// Achievement is value as a percentage of target, rounded to two decimals. It is nil
// without a value or with a zero target.
func Achievement(value *float64, target float64) *float64 {
	if value == nil || target == 0 {
		return nil
	}
	pct := util.Round2(*value / target * 100)
	return &pct
}

func clean(userID uuid.UUID, in EntryInput) (Entry, error) {
	if err := util.Struct(in); err != nil {
		return Entry{}, err
	}
	if !in.Value.Set {
		return Entry{}, repo.Validation("กรุณาระบุค่าตัวเลข")
	}
	return Entry{
		IndicatorID: in.IndicatorID,
		PeriodID:    in.PeriodID,
		Value:       in.Value.Value,
		SubmittedBy: userID,
	}, nil
}

// apply checks one entry against the stored indicator and period and writes it.
func apply(ctx context.Context, q Querier, userJobTitles []uuid.UUID, e Entry) (Result, error) {
	target, err := q.Indicator(ctx, e.IndicatorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, errIndicatorNotFound
		}
		return Result{}, err
	}

	frequencyID, err := q.PeriodFrequency(ctx, e.PeriodID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, errPeriodNotFound
		}
		return Result{}, err
	}
	if frequencyID != target.FrequencyID {
		return Result{}, errPeriodMismatch
	}

	if !intersects(userJobTitles, target.JobTitleIDs) {
		return Result{}, errNotResponsible
	}

	res, err := q.Upsert(ctx, e)
	if err != nil {
		return Result{}, err
	}
	res.IndicatorName = target.Name
	return res, nil
}

func intersects(a, b []uuid.UUID) bool {
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// atEntry prefixes the message of err with the 1-based entry number, keeping its kind.
func atEntry(i int, err error) error {
	var e *repo.Error
	if !errors.As(err, &e) {
		return err
	}
	return &repo.Error{Kind: e.Kind, Message: fmt.Sprintf("รายการที่ %d: %s", i+1, e.Message), Err: e.Err}
}
