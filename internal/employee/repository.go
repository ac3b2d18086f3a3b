package employee

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

// Repository stores staff accounts with their role and job title links.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func selectEmployees() sq.SelectBuilder {
	return psql.Select(
		"u.id", "u.name", "u.email", "u.department_id", "d.name",
		"u.active", "u.last_login_at", "u.created_at", "u.updated_at",
	).
		From("users u").
		LeftJoin("departments d ON d.id = u.department_id")
}

func (r *Repository) query(ctx context.Context, b sq.SelectBuilder) ([]Employee, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Employee, 0)
	for rows.Next() {
		var e Employee
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Email, &e.DepartmentID, &e.DepartmentName,
			&e.Active, &e.LastLoginAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		e.Roles = []RoleRef{}
		e.JobTitles = []Ref{}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.attach(ctx, out)
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := selectEmployees()
	if f.DepartmentID != nil {
		b = b.Where(sq.Eq{"u.department_id": *f.DepartmentID})
	}
	if f.RoleID != nil {
		b = b.Where("EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role_id = ?)", *f.RoleID)
	}
	if f.JobTitleID != nil {
		b = b.Where("EXISTS (SELECT 1 FROM user_job_titles uj WHERE uj.user_id = u.id AND uj.job_title_id = ?)", *f.JobTitleID)
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		b = b.Where(sq.Or{sq.ILike{"u.name": pattern}, sq.ILike{"u.email": pattern}})
	}
	return r.query(ctx, b.OrderBy("lower(u.name)"))
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	items, err := r.query(ctx, selectEmployees().Where(sq.Eq{"u.id": id}))
	if err != nil {
		return Employee{}, err
	}
	if len(items) == 0 {
		return Employee{}, repo.ErrNotFound
	}
	return items[0], nil
}

// attach loads roles and job titles for every employee in one query each.
func (r *Repository) attach(ctx context.Context, items []Employee) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for i, e := range items {
		ids[i] = e.ID
		index[e.ID] = i
	}

	rows, err := r.db.Query(ctx, `
		SELECT ur.user_id, r.id, r.name, r.access
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1)
		ORDER BY lower(r.name)
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var userID uuid.UUID
		var ref RoleRef
		if err := rows.Scan(&userID, &ref.ID, &ref.Name, &ref.Access); err != nil {
			rows.Close()
			return err
		}
		items[index[userID]].Roles = append(items[index[userID]].Roles, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Query(ctx, `
		SELECT uj.user_id, j.id, j.name
		FROM user_job_titles uj
		JOIN job_titles j ON j.id = uj.job_title_id
		WHERE uj.user_id = ANY($1)
		ORDER BY lower(j.name)
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var userID uuid.UUID
		var ref Ref
		if err := rows.Scan(&userID, &ref.ID, &ref.Name); err != nil {
			return err
		}
		items[index[userID]].JobTitles = append(items[index[userID]].JobTitles, ref)
	}
	return rows.Err()
}

// EmailTaken compares case-insensitively, ignoring exclude.
func (r *Repository) EmailTaken(ctx context.Context, email string, exclude *uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b := psql.Select("1").From("users").Where("lower(email) = lower(?)", email)
	if exclude != nil {
		b = b.Where(sq.NotEq{"id": *exclude})
	}
	query, args, err := b.Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, err
	}

	var taken bool
	err = r.db.QueryRow(ctx, query, args...).Scan(&taken)
	return taken, err
}

// MissingRefs returns the labels of referenced entities that do not exist.
func (r *Repository) MissingRefs(ctx context.Context, d Draft) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var department bool
	var roles, jobTitles int
	err := r.db.QueryRow(ctx, `
		SELECT $1::uuid IS NULL OR EXISTS (SELECT 1 FROM departments WHERE id = $1),
		       (SELECT count(*) FROM roles WHERE id = ANY($2)),
		       (SELECT count(*) FROM job_titles WHERE id = ANY($3))
	`, d.DepartmentID, d.RoleIDs, d.JobTitleIDs).Scan(&department, &roles, &jobTitles)
	if err != nil {
		return nil, err
	}

	var missing []string
	if !department {
		missing = append(missing, "หน่วยงาน")
	}
	if roles != len(d.RoleIDs) {
		missing = append(missing, "บทบาท")
	}
	if jobTitles != len(d.JobTitleIDs) {
		missing = append(missing, "ตำแหน่งงาน")
	}
	return missing, nil
}

func (r *Repository) Create(ctx context.Context, d Draft) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id uuid.UUID
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO users (name, email, password_hash, department_id, active)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, d.Name, d.Email, d.PasswordHash, d.DepartmentID, d.Active).Scan(&id); err != nil {
			return err
		}
		return link(ctx, tx, id, d)
	})
	return id, repo.Classify(err)
}

// Update rewrites the account and replaces its links in one transaction.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, d Draft) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET name = $2, email = $3, department_id = $4, active = $5,
			    password_hash = COALESCE(NULLIF($6, ''), password_hash),
			    updated_at = now()
			WHERE id = $1
		`, id, d.Name, d.Email, d.DepartmentID, d.Active, d.PasswordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_job_titles WHERE user_id = $1`, id); err != nil {
			return err
		}
		return link(ctx, tx, id, d)
	})
	return repo.Classify(err)
}

func link(ctx context.Context, tx pgx.Tx, userID uuid.UUID, d Draft) error {
	if len(d.RoleIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING
		`, userID, d.RoleIDs); err != nil {
			return err
		}
	}
	if len(d.JobTitleIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_job_titles (user_id, job_title_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING
		`, userID, d.JobTitleIDs); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) PasswordHash(ctx context.Context, id uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var hash string
	err := r.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	return hash, repo.Classify(err)
}

func (r *Repository) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// Delete removes the account. Indicators and data it created keep a NULL author.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return repo.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
