package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPostgresErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"no rows", pgx.ErrNoRows, KindNotFound},
		{"wrapped no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), KindNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, KindConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, KindInUse},
		{"check", &pgconn.PgError{Code: "23514"}, KindValidation},
		{"other pg", &pgconn.PgError{Code: "40001"}, KindInternal},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(Classify(tc.err)))
		})
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NotFound("ไม่พบหมวดหมู่")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, "ไม่พบหมวดหมู่", MessageOf(err))

	wrapped := fmt.Errorf("service: %w", Conflict("ชื่อซ้ำ"))
	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.Equal(t, KindConflict, KindOf(wrapped))
}

func TestClassifyAsKeepsDomainMessages(t *testing.T) {
	custom := ClassifyAs(&pgconn.PgError{Code: "23505"}, map[Kind]string{KindConflict: "ชื่อหน่วยนับซ้ำ"})
	require.ErrorIs(t, custom, ErrConflict)
	assert.Equal(t, "ชื่อหน่วยนับซ้ำ", MessageOf(custom))

	domain := ClassifyAs(Validation("ต้องระบุชื่อ"), map[Kind]string{KindValidation: "อื่น"})
	assert.Equal(t, "ต้องระบุชื่อ", MessageOf(domain))

	assert.Equal(t, "เกิดข้อผิดพลาดภายในระบบ", MessageOf(errors.New("x")))
}
