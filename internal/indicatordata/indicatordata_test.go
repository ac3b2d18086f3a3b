package indicatordata

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/repo"
)

type pair struct {
	indicator uuid.UUID
	period    uuid.UUID
}

// stubStore keeps committed rows apart from the rows staged by an open transaction, so
// a failing callback leaves the committed state untouched.
type stubStore struct {
	indicators map[uuid.UUID]Target
	periods    map[uuid.UUID]uuid.UUID
	userTitles map[uuid.UUID][]uuid.UUID
	rows       map[pair]Record
	commits    int
	summaries  int
}

func (s *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	staged := make(map[pair]Record, len(s.rows))
	for k, v := range s.rows {
		staged[k] = v
	}
	if err := fn(ctx, &stubQuerier{store: s, staged: staged}); err != nil {
		return err
	}
	s.rows = staged
	s.commits++
	return nil
}

func (s *stubStore) List(ctx context.Context, f Filter) ([]Record, error) {
	out := make([]Record, 0, len(s.rows))
	for _, r := range s.rows {
		if f.IndicatorID != nil && r.IndicatorID != *f.IndicatorID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *stubStore) Summary(ctx context.Context, f Filter) ([]SummaryRow, error) {
	s.summaries++
	out := make([]SummaryRow, 0)
	for id, t := range s.indicators {
		row := SummaryRow{IndicatorID: id, IndicatorName: t.Name, TargetValue: 80}
		for k, r := range s.rows {
			if k.indicator == id {
				v := r.Value
				row.LatestValue = &v
				row.ReportedCount++
			}
		}
		out = append(out, row)
	}
	return out, nil
}

type stubQuerier struct {
	store  *stubStore
	staged map[pair]Record
}

func (q *stubQuerier) Indicator(ctx context.Context, id uuid.UUID) (Target, error) {
	t, ok := q.store.indicators[id]
	if !ok {
		return Target{}, repo.ErrNotFound
	}
	return t, nil
}

func (q *stubQuerier) PeriodFrequency(ctx context.Context, periodID uuid.UUID) (uuid.UUID, error) {
	f, ok := q.store.periods[periodID]
	if !ok {
		return uuid.Nil, repo.ErrNotFound
	}
	return f, nil
}

func (q *stubQuerier) UserJobTitles(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return q.store.userTitles[userID], nil
}

func (q *stubQuerier) Upsert(ctx context.Context, e Entry) (Result, error) {
	k := pair{e.IndicatorID, e.PeriodID}
	rec, exists := q.staged[k]
	if !exists {
		rec = Record{ID: uuid.New(), IndicatorID: e.IndicatorID, PeriodID: e.PeriodID, CreatedAt: time.Now()}
	}
	rec.Value = e.Value
	by := e.SubmittedBy
	rec.SubmittedBy = &by
	rec.UpdatedAt = time.Now()
	q.staged[k] = rec
	return Result{Record: rec, Created: !exists}, nil
}

type fixture struct {
	store                   *stubStore
	svc                     *Service
	user, outsider          uuid.UUID
	mine, theirs, child     uuid.UUID
	q1, q2, otherFreqPeriod uuid.UUID
}

func newFixture() fixture {
	lecturer, officer := uuid.New(), uuid.New()
	quarterly, yearly := uuid.New(), uuid.New()
	f := fixture{
		user: uuid.New(), outsider: uuid.New(),
		mine: uuid.New(), theirs: uuid.New(), child: uuid.New(),
		q1: uuid.New(), q2: uuid.New(), otherFreqPeriod: uuid.New(),
	}
	f.store = &stubStore{
		indicators: map[uuid.UUID]Target{
			f.mine:   {ID: f.mine, Name: "ผลงานวิจัย", FrequencyID: quarterly, JobTitleIDs: []uuid.UUID{lecturer}},
			f.child:  {ID: f.child, Name: "ผลงานวิจัยระดับชาติ", FrequencyID: quarterly, JobTitleIDs: []uuid.UUID{lecturer}},
			f.theirs: {ID: f.theirs, Name: "งบประมาณ", FrequencyID: quarterly, JobTitleIDs: []uuid.UUID{officer}},
		},
		periods: map[uuid.UUID]uuid.UUID{
			f.q1:              quarterly,
			f.q2:              quarterly,
			f.otherFreqPeriod: yearly,
		},
		userTitles: map[uuid.UUID][]uuid.UUID{
			f.user:     {lecturer},
			f.outsider: {},
		},
		rows: map[pair]Record{},
	}
	f.svc = NewService(f.store)
	return f
}

func num(t *testing.T, raw string) EntryInput {
	t.Helper()
	var in EntryInput
	require.NoError(t, json.Unmarshal([]byte(`{"value":`+raw+`}`), &in))
	return in
}

func (f fixture) entry(t *testing.T, indicator, period uuid.UUID, raw string) EntryInput {
	in := num(t, raw)
	in.IndicatorID, in.PeriodID = indicator, period
	return in
}

func TestUpsertInsertsThenOverwrites(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Upsert(ctx, f.user, f.entry(t, f.mine, f.q1, `12`))
	require.NoError(t, err)
	assert.True(t, res.Created)

	res, err = f.svc.Upsert(ctx, f.user, f.entry(t, f.mine, f.q1, `"15.5"`))
	require.NoError(t, err)
	assert.False(t, res.Created)

	require.Len(t, f.store.rows, 1)
	assert.Equal(t, 15.5, f.store.rows[pair{f.mine, f.q1}].Value)
}

func TestUpsertChecks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		user uuid.UUID
		in   EntryInput
		want *repo.Error
	}{
		{"not-responsible", f.user, f.entry(t, f.theirs, f.q1, `1`), repo.ErrForbidden},
		{"no-job-titles", f.outsider, f.entry(t, f.mine, f.q1, `1`), repo.ErrForbidden},
		{"period-of-other-frequency", f.user, f.entry(t, f.mine, f.otherFreqPeriod, `1`), repo.ErrValidation},
		{"unknown-period", f.user, f.entry(t, f.mine, uuid.New(), `1`), repo.ErrNotFound},
		{"unknown-indicator", f.user, f.entry(t, uuid.New(), f.q1, `1`), repo.ErrNotFound},
		{"missing-value", f.user, f.entry(t, f.mine, f.q1, `null`), repo.ErrValidation},
		{"missing-indicator", f.user, EntryInput{PeriodID: f.q1}, repo.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Upsert(ctx, tc.user, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.store.rows)
}

func TestSubIndicatorUsesParentJobTitles(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Upsert(context.Background(), f.user, f.entry(t, f.child, f.q2, `3`))
	require.NoError(t, err)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.UpsertBatch(ctx, f.user, BatchInput{Entries: []EntryInput{
		f.entry(t, f.mine, f.q1, `10`),
		f.entry(t, f.theirs, f.q1, `20`),
		f.entry(t, f.child, f.q1, `30`),
	}})
	require.ErrorIs(t, err, repo.ErrForbidden)
	assert.Contains(t, repo.MessageOf(err), "รายการที่ 2")
	assert.Empty(t, f.store.rows)
	assert.Zero(t, f.store.commits)

	results, err := f.svc.UpsertBatch(ctx, f.user, BatchInput{Entries: []EntryInput{
		f.entry(t, f.mine, f.q1, `10`),
		f.entry(t, f.mine, f.q2, `"11"`),
		f.entry(t, f.child, f.q1, `30`),
	}})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Len(t, f.store.rows, 3)
	assert.Equal(t, 1, f.store.commits)
}

func TestBatchRejectsRepeatedPairAndEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.UpsertBatch(ctx, f.user, BatchInput{Entries: []EntryInput{
		f.entry(t, f.mine, f.q1, `1`),
		f.entry(t, f.mine, f.q1, `2`),
	}})
	assert.ErrorIs(t, err, repo.ErrValidation)

	_, err = f.svc.UpsertBatch(ctx, f.user, BatchInput{})
	assert.ErrorIs(t, err, repo.ErrValidation)
	assert.Empty(t, f.store.rows)
}

func TestAchievement(t *testing.T) {
	v := 45.0
	got := Achievement(&v, 60)
	require.NotNil(t, got)
	assert.Equal(t, 75.0, *got)

	third := 1.0
	assert.Equal(t, 33.33, *Achievement(&third, 3))
	assert.Nil(t, Achievement(nil, 60))
	assert.Nil(t, Achievement(&v, 0))
}

func TestIndicatorDataHandlers(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	send := func(method, path, body string, user uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req = req.WithContext(middleware.WithIdentity(req.Context(), user.String(), []string{"employee"}))
		rec := httptest.NewRecorder()
		r := chi.NewRouter()
		h.RegisterRoutes(r)
		r.ServeHTTP(rec, req)
		return rec
	}

	body := `{"indicatorId":"` + f.mine.String() + `","periodId":"` + f.q1.String() + `","value":"42.5"}`
	assert.Equal(t, http.StatusCreated, send(http.MethodPost, "/indicator-data", body, f.user).Code)
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/indicator-data", body, f.user).Code)
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/indicator-data", body, f.outsider).Code)

	text := `{"indicatorId":"` + f.mine.String() + `","periodId":"` + f.q2.String() + `","value":"สิบ"}`
	rec := send(http.MethodPost, "/indicator-data", text, f.user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	batch := `{"entries":[` +
		`{"indicatorId":"` + f.mine.String() + `","periodId":"` + f.q2.String() + `","value":1},` +
		`{"indicatorId":"` + f.mine.String() + `","periodId":"` + f.q1.String() + `","value":"x"}]}`
	assert.Equal(t, http.StatusBadRequest, send(http.MethodPost, "/indicator-data/batch", batch, f.user).Code)
	assert.Len(t, f.store.rows, 1)

	rec = send(http.MethodGet, "/indicator-data?indicatorId="+f.mine.String(), "", f.user)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, 42.5, records[0].Value)

	rec = send(http.MethodGet, "/indicator-data/summary?mine=true", "", f.user)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(http.MethodGet, "/indicator-data?periodId=nope", "", f.user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubCache struct {
	store map[string]string
}

func (c *stubCache) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	val, ok := c.store[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (c *stubCache) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		c.store[key] = string(v)
	case string:
		c.store[key] = v
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (c *stubCache) Incr(ctx context.Context, key string) *redis.IntCmd {
	n, _ := strconv.ParseInt(c.store[key], 10, 64)
	n++
	c.store[key] = strconv.FormatInt(n, 10)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(n)
	return cmd
}

func TestSummaryCacheInvalidatedByWrites(t *testing.T) {
	f := newFixture()
	f.svc.WithCache(&stubCache{store: map[string]string{}}, time.Minute)
	ctx := context.Background()

	first, err := f.svc.Summary(ctx, Filter{})
	require.NoError(t, err)
	_, err = f.svc.Summary(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.summaries)

	_, err = f.svc.Summary(ctx, Filter{IndicatorID: &f.mine})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.summaries)

	_, err = f.svc.Upsert(ctx, f.user, f.entry(t, f.mine, f.q1, `40`))
	require.NoError(t, err)

	after, err := f.svc.Summary(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.summaries)
	assert.Len(t, after, len(first))

	for _, row := range after {
		if row.IndicatorID == f.mine {
			require.NotNil(t, row.Achievement)
			assert.Equal(t, 50.0, *row.Achievement)
		}
	}
}

func TestSummaryCacheDroppedByInvalidator(t *testing.T) {
	f := newFixture()
	cache := &stubCache{store: map[string]string{}}
	f.svc.WithCache(cache, time.Minute)
	ctx := context.Background()

	before, err := f.svc.Summary(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, before, 3)

	// an indicator deleted elsewhere, followed by the deleting service's invalidation
	delete(f.store.indicators, f.theirs)
	NewInvalidator(cache).Invalidate(ctx)

	after, err := f.svc.Summary(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.summaries)
	require.Len(t, after, 2)
	for _, row := range after {
		assert.NotEqual(t, f.theirs, row.IndicatorID)
	}

	var none *Invalidator
	assert.NotPanics(t, func() { none.Invalidate(ctx) })
}
