package indicatordata

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deptkpi/kpi/internal/db"
	"github.com/deptkpi/kpi/internal/period"
	"github.com/deptkpi/kpi/internal/repo"
)

const dbTimeout = 3 * time.Second

// batchTimeout bounds a whole batch transaction.
const batchTimeout = 15 * time.Second

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository stores indicator values.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn with a Querier bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txQuerier{q: tx})
	})
}

type txQuerier struct {
	q db.DBTX
}

func (t *txQuerier) Indicator(ctx context.Context, id uuid.UUID) (Target, error) {
	var target Target
	err := t.q.QueryRow(ctx, `
		SELECT i.id, i.name, i.frequency_id,
		       COALESCE((
		           SELECT array_agg(j.job_title_id)
		           FROM indicator_job_titles j
		           WHERE j.indicator_id = COALESCE(i.parent_id, i.id)
		       ), '{}')
		FROM indicators i
		WHERE i.id = $1
	`, id).Scan(&target.ID, &target.Name, &target.FrequencyID, &target.JobTitleIDs)
	if err != nil {
		return Target{}, repo.Classify(err)
	}
	return target, nil
}

func (t *txQuerier) PeriodFrequency(ctx context.Context, periodID uuid.UUID) (uuid.UUID, error) {
	var frequencyID uuid.UUID
	if err := t.q.QueryRow(ctx, `SELECT frequency_id FROM periods WHERE id = $1`, periodID).Scan(&frequencyID); err != nil {
		return uuid.Nil, repo.Classify(err)
	}
	return frequencyID, nil
}

func (t *txQuerier) UserJobTitles(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.q.Query(ctx, `SELECT job_title_id FROM user_job_titles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txQuerier) Upsert(ctx context.Context, e Entry) (Result, error) {
	res := Result{Record: Record{
		IndicatorID: e.IndicatorID,
		PeriodID:    e.PeriodID,
		Value:       e.Value,
		SubmittedBy: &e.SubmittedBy,
	}}
	err := t.q.QueryRow(ctx, `
		INSERT INTO indicator_data (indicator_id, period_id, value, submitted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (indicator_id, period_id)
		DO UPDATE SET value = EXCLUDED.value, submitted_by = EXCLUDED.submitted_by, updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`, e.IndicatorID, e.PeriodID, e.Value, e.SubmittedBy).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt, &res.Created)
	if err != nil {
		return Result{}, repo.Classify(err)
	}
	return res, nil
}

func applyFilter(b sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if f.IndicatorID != nil {
		b = b.Where(sq.Or{sq.Eq{"i.id": *f.IndicatorID}, sq.Eq{"i.parent_id": *f.IndicatorID}})
	}
	if f.FrequencyID != nil {
		b = b.Where(sq.Eq{"i.frequency_id": *f.FrequencyID})
	}
	if f.CategoryID != nil {
		b = b.Where(sq.Eq{"i.category_id": *f.CategoryID})
	}
	if f.ResponsibleUserID != nil {
		b = b.Where(`EXISTS (
			SELECT 1 FROM indicator_job_titles j
			JOIN user_job_titles uj ON uj.job_title_id = j.job_title_id
			WHERE j.indicator_id = COALESCE(i.parent_id, i.id) AND uj.user_id = ?
		)`, *f.ResponsibleUserID)
	}
	return b
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := psql.Select(
		"d.id", "d.indicator_id", "i.name", "d.period_id", "p.name", "p.start_date", "p.end_date",
		"d.value", "d.submitted_by", "COALESCE(u.name, '')", "d.created_at", "d.updated_at",
	).
		From("indicator_data d").
		Join("indicators i ON i.id = d.indicator_id").
		Join("periods p ON p.id = d.period_id").
		LeftJoin("users u ON u.id = d.submitted_by")
	b = applyFilter(b, f)
	if f.PeriodID != nil {
		b = b.Where(sq.Eq{"d.period_id": *f.PeriodID})
	}

	query, args, err := b.OrderBy("p.start_date", "i.name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.IndicatorID, &rec.IndicatorName, &rec.PeriodID, &rec.PeriodName,
			&rec.StartDate.Time, &rec.EndDate.Time, &rec.Value, &rec.SubmittedBy, &rec.SubmitterName,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) Summary(ctx context.Context, f Filter) ([]SummaryRow, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := psql.Select(
		"i.id", "i.name", "i.parent_id", "u.name", "i.target_value",
		"(SELECT count(*) FROM periods p WHERE p.frequency_id = i.frequency_id)",
		"(SELECT count(*) FROM indicator_data d WHERE d.indicator_id = i.id)",
		"latest.value", "latest.name", "latest.end_date",
	).
		From("indicators i").
		Join("units u ON u.id = i.unit_id").
		JoinClause(`LEFT JOIN LATERAL (
			SELECT d.value, p.name, p.end_date
			FROM indicator_data d
			JOIN periods p ON p.id = d.period_id
			WHERE d.indicator_id = i.id
			ORDER BY p.end_date DESC
			LIMIT 1
		) latest ON true`)
	b = applyFilter(b, f)

	query, args, err := b.OrderBy("COALESCE(i.parent_id, i.id)", "i.parent_id NULLS FIRST", "i.position").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SummaryRow, 0)
	for rows.Next() {
		var s SummaryRow
		var end *time.Time
		if err := rows.Scan(
			&s.IndicatorID, &s.IndicatorName, &s.ParentID, &s.UnitName, &s.TargetValue,
			&s.PeriodCount, &s.ReportedCount, &s.LatestValue, &s.LatestPeriodName, &end,
		); err != nil {
			return nil, err
		}
		if end != nil {
			d := period.NewDate(*end)
			s.LatestPeriodEnd = &d
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
