package indicator

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deptkpi/kpi/internal/db"
	"github.com/deptkpi/kpi/internal/repo"
)

const dbTimeout = 3 * time.Second

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository stores indicators, their sub-indicators and responsible job titles.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func selectIndicators() sq.SelectBuilder {
	return psql.Select(
		"i.id", "i.name", "i.description",
		"i.category_id", "c.name",
		"i.unit_id", "u.name",
		"i.frequency_id", "f.name",
		"i.target_value", "i.parent_id", "i.position", "i.created_by", "i.created_at", "i.updated_at",
	).
		From("indicators i").
		Join("categories c ON c.id = i.category_id").
		Join("units u ON u.id = i.unit_id").
		Join("frequencies f ON f.id = i.frequency_id")
}

func scanIndicators(rows pgx.Rows) ([]Indicator, error) {
	defer rows.Close()
	out := make([]Indicator, 0)
	for rows.Next() {
		var it Indicator
		if err := rows.Scan(
			&it.ID, &it.Name, &it.Description,
			&it.CategoryID, &it.CategoryName,
			&it.UnitID, &it.UnitName,
			&it.FrequencyID, &it.FrequencyName,
			&it.TargetValue, &it.ParentID, &it.Position, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, err
		}
		it.JobTitles = []JobTitleRef{}
		it.SubIndicators = []Indicator{}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repository) query(ctx context.Context, b sq.SelectBuilder) ([]Indicator, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIndicators(rows)
}

// List returns top-level indicators matching f, each with its sub-indicators.
func (r *Repository) List(ctx context.Context, f Filter) ([]Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := selectIndicators().Where("i.parent_id IS NULL")
	if f.CategoryID != nil {
		b = b.Where(sq.Eq{"i.category_id": *f.CategoryID})
	}
	if f.FrequencyID != nil {
		b = b.Where(sq.Eq{"i.frequency_id": *f.FrequencyID})
	}
	if f.UnitID != nil {
		b = b.Where(sq.Eq{"i.unit_id": *f.UnitID})
	}
	if f.JobTitleID != nil {
		b = b.Where("EXISTS (SELECT 1 FROM indicator_job_titles j WHERE j.indicator_id = i.id AND j.job_title_id = ?)", *f.JobTitleID)
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		b = b.Where(sq.Or{
			sq.ILike{"i.name": pattern},
			sq.Expr("EXISTS (SELECT 1 FROM indicators s WHERE s.parent_id = i.id AND s.name ILIKE ?)", pattern),
		})
	}

	parents, err := r.query(ctx, b.OrderBy("c.name", "i.created_at"))
	if err != nil {
		return nil, err
	}
	return parents, r.attach(ctx, parents)
}

// ListAssigned returns the top-level indicators the user is responsible for through any
// of their job titles.
func (r *Repository) ListAssigned(ctx context.Context, userID uuid.UUID) ([]Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := selectIndicators().
		Where("i.parent_id IS NULL").
		Where(`EXISTS (
			SELECT 1 FROM indicator_job_titles j
			JOIN user_job_titles uj ON uj.job_title_id = j.job_title_id
			WHERE j.indicator_id = i.id AND uj.user_id = ?
		)`, userID).
		OrderBy("c.name", "i.created_at")

	parents, err := r.query(ctx, b)
	if err != nil {
		return nil, err
	}
	return parents, r.attach(ctx, parents)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	items, err := r.query(ctx, selectIndicators().Where(sq.Eq{"i.id": id}))
	if err != nil {
		return Indicator{}, err
	}
	if len(items) == 0 {
		return Indicator{}, repo.ErrNotFound
	}

	it := items[0]
	if it.ParentID == nil {
		list := []Indicator{it}
		if err := r.attach(ctx, list); err != nil {
			return Indicator{}, err
		}
		return list[0], nil
	}

	titles, err := r.jobTitles(ctx, []uuid.UUID{*it.ParentID})
	if err != nil {
		return Indicator{}, err
	}
	if jt, ok := titles[*it.ParentID]; ok {
		it.JobTitles = jt
	}
	return it, nil
}

// attach loads job titles and ordered sub-indicators for parents in place.
func (r *Repository) attach(ctx context.Context, parents []Indicator) error {
	if len(parents) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(parents))
	for i, p := range parents {
		ids[i] = p.ID
	}

	titles, err := r.jobTitles(ctx, ids)
	if err != nil {
		return err
	}
	children, err := r.query(ctx, selectIndicators().
		Where(sq.Eq{"i.parent_id": ids}).
		OrderBy("i.parent_id", "i.position", "i.created_at"))
	if err != nil {
		return err
	}

	byParent := make(map[uuid.UUID][]Indicator, len(parents))
	for _, c := range children {
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}
	for i := range parents {
		if jt, ok := titles[parents[i].ID]; ok {
			parents[i].JobTitles = jt
		}
		for _, c := range byParent[parents[i].ID] {
			c.JobTitles = parents[i].JobTitles
			parents[i].SubIndicators = append(parents[i].SubIndicators, c)
		}
	}
	return nil
}

func (r *Repository) jobTitles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]JobTitleRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ijt.indicator_id, jt.id, jt.name
		FROM indicator_job_titles ijt
		JOIN job_titles jt ON jt.id = ijt.job_title_id
		WHERE ijt.indicator_id = ANY($1)
		ORDER BY jt.name
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]JobTitleRef)
	for rows.Next() {
		var owner uuid.UUID
		var jt JobTitleRef
		if err := rows.Scan(&owner, &jt.ID, &jt.Name); err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], jt)
	}
	return out, rows.Err()
}

// NamesTaken returns the names, among names, already used by an indicator outside exclude.
func (r *Repository) NamesTaken(ctx context.Context, names []string, exclude []uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	rows, err := r.db.Query(ctx, `
		SELECT name FROM indicators
		WHERE lower(name) = ANY(SELECT lower(n) FROM unnest($1::text[]) AS n)
		  AND NOT (id = ANY($2))
	`, names, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taken []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		taken = append(taken, n)
	}
	return taken, rows.Err()
}

// MissingRefs returns the Thai labels of the referenced rows that do not exist.
func (r *Repository) MissingRefs(ctx context.Context, refs Refs) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var category, unit, frequency bool
	var jobTitles int
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1),
		       EXISTS (SELECT 1 FROM units WHERE id = $2),
		       EXISTS (SELECT 1 FROM frequencies WHERE id = $3),
		       (SELECT count(*) FROM job_titles WHERE id = ANY($4))
	`, refs.CategoryID, refs.UnitID, refs.FrequencyID, refs.JobTitleIDs).Scan(&category, &unit, &frequency, &jobTitles)
	if err != nil {
		return nil, err
	}

	var missing []string
	if !category {
		missing = append(missing, "หมวดหมู่")
	}
	if !unit {
		missing = append(missing, "หน่วยนับ")
	}
	if !frequency {
		missing = append(missing, "ความถี่การรายงาน")
	}
	if jobTitles != len(refs.JobTitleIDs) {
		missing = append(missing, "ตำแหน่งผู้รับผิดชอบ")
	}
	return missing, nil
}

// HasData reports whether any of ids already holds indicator values.
func (r *Repository) HasData(ctx context.Context, ids []uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM indicator_data WHERE indicator_id = ANY($1))`, ids).Scan(&exists)
	return exists, err
}

// Create writes the indicator, its job title links and its sub-indicators in one
// transaction.
func (r *Repository) Create(ctx context.Context, d Draft) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id uuid.UUID
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO indicators (name, description, category_id, unit_id, frequency_id, target_value, parent_id, position, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, d.Name, d.Description, d.CategoryID, d.UnitID, d.FrequencyID, d.TargetValue, d.ParentID, d.Position, d.CreatedBy).Scan(&id)
		if err != nil {
			return err
		}

		if err := linkJobTitles(ctx, tx, id, d.JobTitleIDs); err != nil {
			return err
		}
		return insertChildren(ctx, tx, id, d, d.Children)
	})
	return id, repo.Classify(err)
}

// Update rewrites the indicator, replaces its job title links and synchronises its
// sub-indicators in one transaction. Sub-indicators missing from d.Children are removed.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, d Draft) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	steps := updateSteps(id, d)
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		for _, st := range steps {
			tag, err := tx.Exec(ctx, st.sql, st.args...)
			if err != nil {
				return err
			}
			if st.mustMatch && tag.RowsAffected() == 0 {
				return repo.ErrNotFound
			}
		}
		return nil
	})
	return repo.Classify(err)
}

type step struct {
	sql       string
	args      []any
	mustMatch bool
}

// updateSteps orders the statements of an update so the case-insensitive name index
// only sees the final names: removed children go first, kept children are parked under
// their id before the parent and the children take their new names.
func updateSteps(id uuid.UUID, d Draft) []step {
	topLevel := d.ParentID == nil

	keep := make([]uuid.UUID, 0, len(d.Children))
	for _, c := range d.Children {
		if c.ID != nil {
			keep = append(keep, *c.ID)
		}
	}

	var steps []step
	if topLevel {
		steps = append(steps, step{
			sql:  `DELETE FROM indicators WHERE parent_id = $1 AND NOT (id = ANY($2))`,
			args: []any{id, keep},
		})
		if len(keep) > 0 {
			steps = append(steps, step{
				sql:  `UPDATE indicators SET name = 'tmp:' || id::text WHERE parent_id = $1 AND id = ANY($2)`,
				args: []any{id, keep},
			})
		}
	}

	steps = append(steps,
		step{
			sql: `
				UPDATE indicators
				SET name = $2, description = $3, category_id = $4, unit_id = $5, frequency_id = $6,
				    target_value = $7, parent_id = $8, position = $9, updated_at = now()
				WHERE id = $1
			`,
			args:      []any{id, d.Name, d.Description, d.CategoryID, d.UnitID, d.FrequencyID, d.TargetValue, d.ParentID, d.Position},
			mustMatch: true,
		},
		step{sql: `DELETE FROM indicator_job_titles WHERE indicator_id = $1`, args: []any{id}},
	)
	if len(d.JobTitleIDs) > 0 {
		steps = append(steps, linkStep(id, d.JobTitleIDs))
	}
	if !topLevel {
		return steps
	}

	for _, c := range d.Children {
		if c.ID == nil {
			steps = append(steps, insertChildStep(id, d, c))
			continue
		}
		steps = append(steps, step{
			sql: `
				UPDATE indicators
				SET name = $3, description = $4, target_value = $5, position = $6,
				    category_id = $7, unit_id = $8, frequency_id = $9, updated_at = now()
				WHERE id = $1 AND parent_id = $2
			`,
			args: []any{*c.ID, id, c.Name, c.Description, c.TargetValue, c.Position, d.CategoryID, d.UnitID, d.FrequencyID},
		})
	}
	return steps
}

func linkStep(indicatorID uuid.UUID, jobTitleIDs []uuid.UUID) step {
	return step{
		sql: `
			INSERT INTO indicator_job_titles (indicator_id, job_title_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING
		`,
		args: []any{indicatorID, jobTitleIDs},
	}
}

func insertChildStep(parentID uuid.UUID, parent Draft, c ChildDraft) step {
	return step{
		sql: `
			INSERT INTO indicators (name, description, category_id, unit_id, frequency_id, target_value, parent_id, position, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
		args: []any{c.Name, c.Description, parent.CategoryID, parent.UnitID, parent.FrequencyID, c.TargetValue, parentID, c.Position, parent.CreatedBy},
	}
}

func linkJobTitles(ctx context.Context, tx pgx.Tx, indicatorID uuid.UUID, jobTitleIDs []uuid.UUID) error {
	if len(jobTitleIDs) == 0 {
		return nil
	}
	st := linkStep(indicatorID, jobTitleIDs)
	_, err := tx.Exec(ctx, st.sql, st.args...)
	return err
}

func insertChildren(ctx context.Context, tx pgx.Tx, parentID uuid.UUID, parent Draft, children []ChildDraft) error {
	if len(children) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range children {
		st := insertChildStep(parentID, parent, c)
		batch.Queue(st.sql, st.args...)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Delete removes the indicator; sub-indicators, links and values cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM indicators WHERE id = $1`, id)
	if err != nil {
		return repo.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
