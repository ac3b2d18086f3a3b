package indicatordata

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	summaryGenKey    = "kpi:summary:gen"
	summaryKeyPrefix = "kpi:summary:"
)

// Cache is the subset of a redis client the summary cache uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// summaryCache keeps summary results for a short time. Every saved value bumps a
// generation counter, so stale entries are never read after a write.
type summaryCache struct {
	client Cache
	ttl    time.Duration
}

func (c *summaryCache) key(ctx context.Context, f Filter) (string, bool) {
	gen, err := c.client.Get(ctx, summaryGenKey).Result()
	if errors.Is(err, redis.Nil) {
		gen = "0"
	} else if err != nil {
		log.Warn().Err(err).Msg("summary cache unavailable")
		return "", false
	}

	parts := []string{gen}
	for _, id := range []*uuid.UUID{f.IndicatorID, f.PeriodID, f.FrequencyID, f.CategoryID, f.ResponsibleUserID} {
		if id == nil {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, id.String())
	}
	return summaryKeyPrefix + strings.Join(parts, ":"), true
}

func (c *summaryCache) get(ctx context.Context, key string) ([]SummaryRow, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []SummaryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *summaryCache) put(ctx context.Context, key string, rows []SummaryRow) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("summary cache write failed")
	}
}

func (c *summaryCache) invalidate(ctx context.Context) {
	NewInvalidator(c.client).Invalidate(ctx)
}

// Incrementer is the redis command the Invalidator needs.
type Incrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Invalidator discards every cached summary by bumping the generation counter. Services
// whose writes change what a summary shows (indicators, frequencies, units, job title
// assignments) call it after a successful commit.
type Invalidator struct {
	client Incrementer
}

func NewInvalidator(client Incrementer) *Invalidator {
	return &Invalidator{client: client}
}

// Invalidate bumps the generation. A nil Invalidator does nothing.
func (i *Invalidator) Invalidate(ctx context.Context) {
	if i == nil || i.client == nil {
		return
	}
	if err := i.client.Incr(ctx, summaryGenKey).Err(); err != nil {
		log.Warn().Err(err).Msg("summary cache invalidation failed")
	}
}
