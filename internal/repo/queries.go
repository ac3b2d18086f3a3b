package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 3 * time.Second

// Queries holds the account and session statements shared by the auth service, the
// activity middleware and the admin command.
type Queries struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const selectUser = `
    SELECT id, name, email, password_hash, department_id, active, last_login_at, created_at
    FROM users`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.DepartmentID, &u.Active, &u.LastLoginAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanUser(q.pool.QueryRow(ctx, selectUser+` WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanUser(q.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

// ListUserAccess returns the access codes of every role linked to the user.
func (q *Queries) ListUserAccess(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := q.pool.Query(ctx, `
        SELECT DISTINCT r.access
        FROM user_roles ur
        JOIN roles r ON r.id = ur.role_id
        WHERE ur.user_id = $1
    `, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// IsActive reports whether the account may still use the API.
func (q *Queries) IsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := q.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.Active, nil
}

func (q *Queries) RecordLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := q.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
	return err
}

func (q *Queries) InsertRefreshToken(ctx context.Context, arg InsertRefreshTokenParams) (RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t RefreshToken
	err := q.pool.QueryRow(ctx, `
        INSERT INTO refresh_tokens (id, subject, token_hash, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, subject, token_hash, expires_at, created_at, revoked
    `, arg.ID, arg.Subject, arg.TokenHash, arg.ExpiresAt, arg.CreatedAt).
		Scan(&t.ID, &t.Subject, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	return t, err
}

func (q *Queries) GetRefreshTokenByHash(ctx context.Context, hash string) (RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t RefreshToken
	err := q.pool.QueryRow(ctx, `
        SELECT id, subject, token_hash, expires_at, created_at, revoked
        FROM refresh_tokens
        WHERE token_hash = $1
    `, hash).Scan(&t.ID, &t.Subject, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	return t, err
}

func (q *Queries) RevokeRefreshToken(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := q.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1`, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeRefreshTokens drops expired or revoked tokens of a user, keeping the table small.
func (q *Queries) PurgeRefreshTokens(ctx context.Context, subject uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := q.pool.Exec(ctx, `
        DELETE FROM refresh_tokens
        WHERE subject = $1 AND (revoked OR expires_at < now())
    `, subject)
	return err
}

// EnsureRole returns the id of the role with the given name, creating it with access
// when missing.
func (q *Queries) EnsureRole(ctx context.Context, name, access string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id uuid.UUID
	err := q.pool.QueryRow(ctx, `SELECT id FROM roles WHERE lower(name) = lower($1)`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}
	err = q.pool.QueryRow(ctx, `INSERT INTO roles (name, access) VALUES ($1, $2) RETURNING id`, name, access).Scan(&id)
	return id, Classify(err)
}

// CreateUser inserts an account linked to a single role.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
        INSERT INTO users (name, email, password_hash)
        VALUES ($1, $2, $3)
        RETURNING id
    `, arg.Name, strings.ToLower(strings.TrimSpace(arg.Email)), arg.PasswordHash).Scan(&id)
	if err != nil {
		return uuid.Nil, Classify(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, id, arg.RoleID); err != nil {
		return uuid.Nil, Classify(err)
	}
	return id, tx.Commit(ctx)
}

// ListUsers returns every account with its access codes, ordered by email.
func (q *Queries) ListUsers(ctx context.Context) ([]UserSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := q.pool.Query(ctx, `
        SELECT u.id, u.name, u.email, u.active,
               COALESCE(array_agg(DISTINCT r.access) FILTER (WHERE r.id IS NOT NULL), '{}')
        FROM users u
        LEFT JOIN user_roles ur ON ur.user_id = u.id
        LEFT JOIN roles r ON r.id = ur.role_id
        GROUP BY u.id
        ORDER BY u.email
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var s UserSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Active, &s.Access); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
