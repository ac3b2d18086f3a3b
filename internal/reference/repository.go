package reference

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deptkpi/kpi/internal/repo"
)

const dbTimeout = 3 * time.Second

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Item is one row of a lookup table. Access is only set for roles.
type Item struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Access     string    `json:"access,omitempty"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Repository stores lookup rows in PostgreSQL. Table and column names come from the
// package-level Kind values, never from requests.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func usageExpr(kind Kind) string {
	if len(kind.Dependents) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(kind.Dependents))
	for _, d := range kind.Dependents {
		parts = append(parts, fmt.Sprintf("(SELECT count(*) FROM %s d WHERE d.%s = t.id)", d.Table, d.Column))
	}
	return strings.Join(parts, " + ")
}

func selectItems(kind Kind) sq.SelectBuilder {
	access := "''"
	if kind.HasAccess {
		access = "t.access"
	}
	return psql.
		Select("t.id", "t.name", access, usageExpr(kind), "t.created_at", "t.updated_at").
		From(kind.Table + " t")
}

func scanItem(row pgx.Row, it *Item) error {
	return row.Scan(&it.ID, &it.Name, &it.Access, &it.UsageCount, &it.CreatedAt, &it.UpdatedAt)
}

func (r *Repository) List(ctx context.Context, kind Kind) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query, args, err := selectItems(kind).OrderBy("lower(t.name)").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := scanItem(rows, &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) Get(ctx context.Context, kind Kind, id uuid.UUID) (Item, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query, args, err := selectItems(kind).Where(sq.Eq{"t.id": id}).ToSql()
	if err != nil {
		return Item{}, err
	}

	var it Item
	if err := scanItem(r.db.QueryRow(ctx, query, args...), &it); err != nil {
		return Item{}, repo.Classify(err)
	}
	return it, nil
}

func (r *Repository) NameTaken(ctx context.Context, kind Kind, name string, exclude *uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cond := sq.And{sq.Expr("lower(name) = lower(?)", name)}
	if exclude != nil {
		cond = append(cond, sq.NotEq{"id": *exclude})
	}
	query, args, err := psql.Select("1").From(kind.Table).Where(cond).Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, err
	}

	var taken bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

func (r *Repository) Insert(ctx context.Context, kind Kind, it Item) (Item, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ins := psql.Insert(kind.Table).Columns("name").Values(it.Name)
	if kind.HasAccess {
		ins = psql.Insert(kind.Table).Columns("name", "access").Values(it.Name, it.Access)
	}
	query, args, err := ins.Suffix("RETURNING id, created_at, updated_at").ToSql()
	if err != nil {
		return Item{}, err
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return Item{}, repo.Classify(err)
	}
	return it, nil
}

func (r *Repository) Update(ctx context.Context, kind Kind, it Item) (Item, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	upd := psql.Update(kind.Table).Set("name", it.Name).Set("updated_at", sq.Expr("now()"))
	if kind.HasAccess {
		upd = upd.Set("access", it.Access)
	}
	query, args, err := upd.Where(sq.Eq{"id": it.ID}).Suffix("RETURNING created_at, updated_at").ToSql()
	if err != nil {
		return Item{}, err
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&it.CreatedAt, &it.UpdatedAt); err != nil {
		return Item{}, repo.Classify(err)
	}
	return it, nil
}

// CountDependents returns the number of rows per dependent table, in Kind order.
func (r *Repository) CountDependents(ctx context.Context, kind Kind, id uuid.UUID) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	counts := make([]int, len(kind.Dependents))
	for i, d := range kind.Dependents {
		query, args, err := psql.Select("count(*)").From(d.Table).Where(sq.Eq{d.Column: id}).ToSql()
		if err != nil {
			return nil, err
		}
		if err := r.db.QueryRow(ctx, query, args...).Scan(&counts[i]); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (r *Repository) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query, args, err := psql.Delete(kind.Table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return repo.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
