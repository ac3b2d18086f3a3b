package util

import (
	"strings"

	"github.com/google/uuid"

	"github.com/deptkpi/kpi/internal/repo"
)

// ParseID parses a path or body identifier, reporting a validation error on garbage.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, repo.Validation("รหัสอ้างอิงไม่ถูกต้อง")
	}
	return id, nil
}

// UniqueIDs drops nil and duplicate ids, keeping the first occurrence order.
func UniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
