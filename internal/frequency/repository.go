package frequency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deptkpi/kpi/internal/db"
	"github.com/deptkpi/kpi/internal/period"
	"github.com/deptkpi/kpi/internal/repo"
)

const dbTimeout = 3 * time.Second

// Repository stores frequencies and their periods.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectFrequencies = `
	SELECT f.id, f.name, f.created_at, f.updated_at,
	       (SELECT count(*) FROM indicators i WHERE i.frequency_id = f.id)
	FROM frequencies f
`

func scanFrequency(row pgx.Row, f *Frequency) error {
	return row.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt, &f.IndicatorCount)
}

func (r *Repository) List(ctx context.Context) ([]Frequency, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, selectFrequencies+` ORDER BY lower(f.name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	freqs := make([]Frequency, 0)
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var f Frequency
		if err := scanFrequency(rows, &f); err != nil {
			return nil, err
		}
		f.Periods = []Period{}
		index[f.ID] = len(freqs)
		freqs = append(freqs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	periods, err := r.listPeriods(ctx, r.db, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		if i, ok := index[p.FrequencyID]; ok {
			freqs[i].Periods = append(freqs[i].Periods, p)
		}
	}
	return freqs, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Frequency, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var f Frequency
	if err := scanFrequency(r.db.QueryRow(ctx, selectFrequencies+` WHERE f.id = $1`, id), &f); err != nil {
		return Frequency{}, repo.Classify(err)
	}

	periods, err := r.listPeriods(ctx, r.db, &id)
	if err != nil {
		return Frequency{}, err
	}
	f.Periods = periods
	return f, nil
}

func (r *Repository) listPeriods(ctx context.Context, q db.DBTX, frequencyID *uuid.UUID) ([]Period, error) {
	rows, err := q.Query(ctx, `
		SELECT p.id, p.frequency_id, p.name, p.start_date, p.end_date,
		       EXISTS (SELECT 1 FROM indicator_data d WHERE d.period_id = p.id)
		FROM periods p
		WHERE $1::uuid IS NULL OR p.frequency_id = $1
		ORDER BY p.start_date
	`, frequencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periods := make([]Period, 0)
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.FrequencyID, &p.Name, &p.StartDate.Time, &p.EndDate.Time, &p.HasData); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *Repository) NameTaken(ctx context.Context, name string, exclude *uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var taken bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM frequencies
			WHERE lower(name) = lower($1) AND ($2::uuid IS NULL OR id <> $2)
		)
	`, name, exclude).Scan(&taken)
	return taken, err
}

func (r *Repository) Create(ctx context.Context, name string, periods []period.Range) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id uuid.UUID
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO frequencies (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
			return err
		}
		return insertPeriods(ctx, tx, id, periods)
	})
	return id, repo.Classify(err)
}

func insertPeriods(ctx context.Context, tx pgx.Tx, frequencyID uuid.UUID, periods []period.Range) error {
	if len(periods) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(`INSERT INTO periods (frequency_id, name, start_date, end_date) VALUES ($1, $2, $3, $4)`,
			frequencyID, p.Name, p.Start, p.End)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Save renames the frequency and applies plan to its periods in one transaction.
func (r *Repository) Save(ctx context.Context, id uuid.UUID, name string, plan Plan) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE frequencies SET name = $2, updated_at = now() WHERE id = $1`, id, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}

		if len(plan.Delete) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM periods WHERE frequency_id = $1 AND id = ANY($2)`, id, plan.Delete); err != nil {
				return err
			}
		}
		for _, p := range plan.Update {
			if _, err := tx.Exec(ctx, `
				UPDATE periods SET name = $3, start_date = $4, end_date = $5
				WHERE id = $1 AND frequency_id = $2
			`, *p.ID, id, p.Name, p.Start, p.End); err != nil {
				return err
			}
		}
		return insertPeriods(ctx, tx, id, plan.Insert)
	})
	return repo.Classify(err)
}

// PeriodsWithData returns the subset of ids that already hold indicator values.
func (r *Repository) PeriodsWithData(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT DISTINCT period_id FROM indicator_data WHERE period_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var used []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		used = append(used, id)
	}
	return used, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM frequencies WHERE id = $1`, id)
	if err != nil {
		return repo.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
