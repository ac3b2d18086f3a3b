package employee

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/repo"
)

type stored struct {
	Employee
	hash string
}

type stubStore struct {
	users      map[uuid.UUID]*stored
	roles      map[uuid.UUID]bool
	jobTitles  map[uuid.UUID]bool
	department map[uuid.UUID]bool
}

func newStubStore() *stubStore {
	return &stubStore{
		users:      map[uuid.UUID]*stored{},
		roles:      map[uuid.UUID]bool{},
		jobTitles:  map[uuid.UUID]bool{},
		department: map[uuid.UUID]bool{},
	}
}

func (s *stubStore) List(ctx context.Context, f Filter) ([]Employee, error) {
	out := make([]Employee, 0, len(s.users))
	for _, u := range s.users {
		if f.Query != "" && !strings.Contains(u.Name, f.Query) {
			continue
		}
		out = append(out, u.Employee)
	}
	return out, nil
}

func (s *stubStore) Get(ctx context.Context, id uuid.UUID) (Employee, error) {
	u, ok := s.users[id]
	if !ok {
		return Employee{}, repo.ErrNotFound
	}
	return u.Employee, nil
}

func (s *stubStore) EmailTaken(ctx context.Context, email string, exclude *uuid.UUID) (bool, error) {
	for id, u := range s.users {
		if exclude != nil && id == *exclude {
			continue
		}
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) MissingRefs(ctx context.Context, d Draft) ([]string, error) {
	var missing []string
	if d.DepartmentID != nil && !s.department[*d.DepartmentID] {
		missing = append(missing, "หน่วยงาน")
	}
	for _, id := range d.RoleIDs {
		if !s.roles[id] {
			missing = append(missing, "บทบาท")
			break
		}
	}
	for _, id := range d.JobTitleIDs {
		if !s.jobTitles[id] {
			missing = append(missing, "ตำแหน่งงาน")
			break
		}
	}
	return missing, nil
}

func (s *stubStore) apply(e *stored, d Draft) {
	e.Name = d.Name
	e.Email = d.Email
	e.DepartmentID = d.DepartmentID
	e.Active = d.Active
	e.Roles = make([]RoleRef, 0, len(d.RoleIDs))
	for _, id := range d.RoleIDs {
		e.Roles = append(e.Roles, RoleRef{ID: id, Access: "employee"})
	}
	e.JobTitles = make([]Ref, 0, len(d.JobTitleIDs))
	for _, id := range d.JobTitleIDs {
		e.JobTitles = append(e.JobTitles, Ref{ID: id})
	}
	if d.PasswordHash != "" {
		e.hash = d.PasswordHash
	}
	e.UpdatedAt = time.Now()
}

func (s *stubStore) Create(ctx context.Context, d Draft) (uuid.UUID, error) {
	e := &stored{Employee: Employee{ID: uuid.New(), CreatedAt: time.Now()}}
	s.apply(e, d)
	s.users[e.ID] = e
	return e.ID, nil
}

func (s *stubStore) Update(ctx context.Context, id uuid.UUID, d Draft) error {
	e, ok := s.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.apply(e, d)
	return nil
}

func (s *stubStore) PasswordHash(ctx context.Context, id uuid.UUID) (string, error) {
	e, ok := s.users[id]
	if !ok {
		return "", repo.ErrNotFound
	}
	return e.hash, nil
}

func (s *stubStore) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	e, ok := s.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.hash = hash
	return nil
}

func (s *stubStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.users[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

type fixture struct {
	store      *stubStore
	svc        *Service
	role       uuid.UUID
	jobTitle   uuid.UUID
	department uuid.UUID
}

func newFixture() fixture {
	store := newStubStore()
	f := fixture{
		store:      store,
		svc:        NewService(store),
		role:       uuid.New(),
		jobTitle:   uuid.New(),
		department: uuid.New(),
	}
	store.roles[f.role] = true
	store.jobTitles[f.jobTitle] = true
	store.department[f.department] = true
	return f
}

func (f fixture) input(name, email string) Input {
	return Input{
		Name:         name,
		Email:        email,
		Password:     "password-123",
		DepartmentID: &f.department,
		RoleIDs:      []uuid.UUID{f.role},
		JobTitleIDs:  []uuid.UUID{f.jobTitle},
	}
}

func TestCreateHashesPasswordAndNormalizesEmail(t *testing.T) {
	f := newFixture()

	e, err := f.svc.Create(context.Background(), f.input(" สมหญิง ดีมาก ", " SomYing@Example.ac.th "))
	require.NoError(t, err)
	assert.Equal(t, "สมหญิง ดีมาก", e.Name)
	assert.Equal(t, "somying@example.ac.th", e.Email)
	assert.True(t, e.Active)
	require.Len(t, e.Roles, 1)
	assert.Equal(t, f.role, e.Roles[0].ID)

	hash := f.store.users[e.ID].hash
	assert.NotEqual(t, "password-123", hash)
	ok, err := auth.Verify("password-123", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), f.input("ผู้ใช้เดิม", "taken@example.ac.th"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Input)
		kind   repo.Kind
	}{
		{"missing name", func(in *Input) { in.Name = "  " }, repo.KindValidation},
		{"bad email", func(in *Input) { in.Email = "not-an-email" }, repo.KindValidation},
		{"duplicate email any case", func(in *Input) { in.Email = "TAKEN@example.ac.th" }, repo.KindConflict},
		{"short password", func(in *Input) { in.Password = "short" }, repo.KindValidation},
		{"no role", func(in *Input) { in.RoleIDs = nil }, repo.KindValidation},
		{"unknown role", func(in *Input) { in.RoleIDs = []uuid.UUID{uuid.New()} }, repo.KindValidation},
		{"unknown job title", func(in *Input) { in.JobTitleIDs = []uuid.UUID{uuid.New()} }, repo.KindValidation},
		{"unknown department", func(in *Input) { id := uuid.New(); in.DepartmentID = &id }, repo.KindValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := f.input("ผู้ใช้ใหม่", "new@example.ac.th")
			tc.mutate(&in)
			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, tc.kind, repo.KindOf(err))
		})
	}
	assert.Len(t, f.store.users, 1)
}

func TestUpdateKeepsPasswordAndActiveWhenOmitted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.Create(ctx, f.input("สมศักดิ์", "somsak@example.ac.th"))
	require.NoError(t, err)
	before := f.store.users[e.ID].hash

	in := f.input("สมศักดิ์ รักงาน", "somsak@example.ac.th")
	in.Password = ""
	in.JobTitleIDs = nil
	updated, err := f.svc.Update(ctx, uuid.New(), e.ID, in)
	require.NoError(t, err)

	assert.Equal(t, "สมศักดิ์ รักงาน", updated.Name)
	assert.Empty(t, updated.JobTitles)
	assert.True(t, updated.Active)
	assert.Equal(t, before, f.store.users[e.ID].hash)
}

func TestUpdateRehashesNewPassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.Create(ctx, f.input("สมศักดิ์", "somsak@example.ac.th"))
	require.NoError(t, err)

	in := f.input("สมศักดิ์", "somsak@example.ac.th")
	in.Password = "another-secret"
	_, err = f.svc.Update(ctx, uuid.New(), e.ID, in)
	require.NoError(t, err)

	ok, err := auth.Verify("another-secret", f.store.users[e.ID].hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, err := f.svc.Create(ctx, f.input("ก", "a@example.ac.th"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.input("ข", "b@example.ac.th"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, a.ID, a.ID, f.input("ก", "b@example.ac.th"))
	assert.Equal(t, repo.KindConflict, repo.KindOf(err))

	inactive := false
	in := f.input("ก", "a@example.ac.th")
	in.Active = &inactive
	_, err = f.svc.Update(ctx, a.ID, a.ID, in)
	assert.ErrorIs(t, err, errDeactivateSelf)

	_, err = f.svc.Update(ctx, a.ID, uuid.New(), f.input("ค", "c@example.ac.th"))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteRefusesSelf(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.Create(ctx, f.input("สมปอง", "sompong@example.ac.th"))
	require.NoError(t, err)

	err = f.svc.Delete(ctx, e.ID, e.ID)
	assert.ErrorIs(t, err, repo.ErrValidation)
	assert.Contains(t, f.store.users, e.ID)

	require.NoError(t, f.svc.Delete(ctx, uuid.New(), e.ID))
	assert.NotContains(t, f.store.users, e.ID)

	err = f.svc.Delete(ctx, uuid.New(), e.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.Create(ctx, f.input("สมปอง", "sompong@example.ac.th"))
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, e.ID, PasswordInput{CurrentPassword: "wrong-one", NewPassword: "brand-new-pass"})
	assert.ErrorIs(t, err, errWrongPassword)

	err = f.svc.ChangePassword(ctx, e.ID, PasswordInput{CurrentPassword: "password-123", NewPassword: "short"})
	assert.ErrorIs(t, err, repo.ErrValidation)

	require.NoError(t, f.svc.ChangePassword(ctx, e.ID, PasswordInput{CurrentPassword: "password-123", NewPassword: "brand-new-pass"}))
	ok, err := auth.Verify("brand-new-pass", f.store.users[e.ID].hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func do(t *testing.T, r http.Handler, method, path string, body any, subject uuid.UUID, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(middleware.WithIdentity(req.Context(), subject.String(), roles))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	f := newFixture()
	admin, err := f.svc.Create(context.Background(), f.input("ผู้ดูแล", "admin@example.ac.th"))
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(f.svc, auth.AccessAdmin).RegisterRoutes(r)

	rec := do(t, r, http.MethodPost, "/employee", f.input("พนักงาน", "staff@example.ac.th"), admin.ID, "employee")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodPost, "/employee", f.input("พนักงาน", "staff@example.ac.th"), admin.ID, "admin")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Employee
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(t, r, http.MethodPost, "/employee", f.input("ซ้ำ", "STAFF@example.ac.th"), admin.ID, "admin")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, "/employee/me", nil, created.ID, "employee")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staff@example.ac.th")

	rec = do(t, r, http.MethodPut, "/employee/me/password", PasswordInput{CurrentPassword: "password-123", NewPassword: "changed-pass"}, created.ID, "employee")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodDelete, "/employee/"+admin.ID.String(), nil, admin.ID, "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodDelete, "/employee/"+created.ID.String(), nil, admin.ID, "admin")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/employee/"+created.ID.String(), nil, admin.ID, "employee")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/employee?departmentId=nope", nil, admin.ID, "employee")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) { c.calls++ }

func TestAssignmentChangesInvalidateSummaries(t *testing.T) {
	f := newFixture()
	inv := &countingInvalidator{}
	f.svc.WithSummaryInvalidator(inv)
	ctx := context.Background()
	admin := uuid.New()

	e, err := f.svc.Create(ctx, f.input("มานี มีงาน", "manee@example.ac.th"))
	require.NoError(t, err)
	assert.Zero(t, inv.calls)

	in := f.input("มานี มีงาน", "manee@example.ac.th")
	in.Password = ""
	in.JobTitleIDs = nil
	_, err = f.svc.Update(ctx, admin, e.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	assert.Error(t, f.svc.Delete(ctx, e.ID, e.ID))
	assert.Equal(t, 1, inv.calls)

	require.NoError(t, f.svc.Delete(ctx, admin, e.ID))
	assert.Equal(t, 2, inv.calls)
}
