package user

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/config"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/storage"
	"github.com/psique-app/platform/internal/shared/types"
)

const testSecret = "test-secret"

type memoryStore struct {
	mu    sync.Mutex
	users map[types.ID]*User
	reset map[types.ID]resetToken
}

type resetToken struct {
	hash    string
	expires time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[types.ID]*User{}, reset: map[types.ID]resetToken{}}
}

func (m *memoryStore) emailTaken(email string, except types.ID) bool {
	for id, u := range m.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (m *memoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(u.Email, "") {
		return errors.Conflict("email is already registered")
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryStore) Get(_ context.Context, id types.ID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	cp := *u
	return &cp, nil
}

func (m *memoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errors.NotFound("user", email)
}

func (m *memoryStore) LookupIdentity(ctx context.Context, id types.ID) (*auth.Identity, error) {
	u, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Identity(), nil
}

func (m *memoryStore) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(u.Email, u.ID) {
		return errors.Conflict("email is already registered")
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryStore) Deactivate(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return errors.NotFound("user", id.String())
	}
	u.Status = false
	return nil
}

func (m *memoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memoryStore) CountActiveAdmins(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.Role == auth.RoleAdmin && u.Status {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ActiveAdmin(context.Context) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Role == auth.RoleAdmin && u.Status {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errors.NotFound("admin", "")
}

func (m *memoryStore) ListPsychologists(_ context.Context, activeOnly bool) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []User{}
	for _, u := range m.users {
		if u.Role != auth.RolePsychologist || (activeOnly && !u.Status) {
			continue
		}
		zero := 0
		cp := *u
		cp.ActiveStudents = &zero
		out = append(out, cp)
	}
	return out, nil
}

func (m *memoryStore) IsActivePsychologist(_ context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return ok && u.Role == auth.RolePsychologist && u.Status, nil
}

func (m *memoryStore) SetResetToken(_ context.Context, id types.ID, hash string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[id] = resetToken{hash: hash, expires: expires}
	return nil
}

func (m *memoryStore) ResetPassword(_ context.Context, hash, passwordHash string, now time.Time) (types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.reset {
		if tok.hash == hash && tok.expires.After(now) && m.users[id].Status {
			m.users[id].PasswordHash = passwordHash
			delete(m.reset, id)
			return id, nil
		}
	}
	return "", errors.NotFound("reset token", "")
}

type fixture struct {
	store   *memoryStore
	files   *storage.LocalStore
	dir     string
	handler http.Handler
	events  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStore(dir, "http://files.test/uploads", nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	f := &fixture{store: newMemoryStore(), files: files, dir: dir}
	bus := events.NewMemoryBus(nil)
	_ = bus.Subscribe(context.Background(), "user.*", "test", func(_ context.Context, e events.Event) error {
		f.events = append(f.events, e.Type)
		return nil
	})

	h := NewHandler(f.store, files, bus, testSecret, 64, zap.NewNop())
	r := http.NewServeMux()
	r.Handle("/users/", http.StripPrefix("/users", h.Routes()))
	r.Handle("/psicologist/", http.StripPrefix("/psicologist", h.PsychologistRoutes()))
	f.handler = r
	return f
}

func (f *fixture) seed(t *testing.T, role auth.Role, email, password string) *User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	u := &User{ID: types.NewID(), FirstName: "Test", LastName: string(role), Email: email, PasswordHash: hash, Role: role, Status: true}
	if err := f.store.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func token(t *testing.T, u *User) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, u.Identity(), time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, as *User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, as))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func createBody(email string, role auth.Role) CreateUserRequest {
	return CreateUserRequest{FirstName: "Ana", LastName: "Ruiz", Email: email, Password: "secret1", Role: role}
}

func TestCreateUserRules(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, nil, http.MethodPost, "/users/", createBody("p@example.com", auth.RolePsychologist)); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a first account that is not admin, got %d", rec.Code)
	}

	rec := f.do(t, nil, http.MethodPost, "/users/", createBody("Admin@Example.com", auth.RoleAdmin))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for the first admin, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created["name"] != "Ana Ruiz" || created["email"] != "admin@example.com" {
		t.Errorf("Unexpected body: %v", created)
	}
	if _, ok := created["password"]; ok {
		t.Error("Expected password to be hidden")
	}

	admin, _ := f.store.GetByEmail(context.Background(), "admin@example.com")
	psych := f.seed(t, auth.RolePsychologist, "psych@example.com", "secret1")

	tests := []struct {
		name   string
		as     *User
		body   CreateUserRequest
		status int
	}{
		{"anonymous after bootstrap", nil, createBody("a@example.com", auth.RolePsychologist), http.StatusUnauthorized},
		{"second admin", admin, createBody("b@example.com", auth.RoleAdmin), http.StatusForbidden},
		{"psychologist creates psychologist", psych, createBody("c@example.com", auth.RolePsychologist), http.StatusForbidden},
		{"student account", admin, createBody("d@example.com", auth.RoleStudent), http.StatusBadRequest},
		{"short password", admin, CreateUserRequest{FirstName: "A", LastName: "B", Email: "e@example.com", Password: "123", Role: auth.RolePsychologist}, http.StatusBadRequest},
		{"duplicate email", admin, createBody("PSYCH@example.com", auth.RolePsychologist), http.StatusConflict},
		{"admin creates psychologist", admin, createBody("f@example.com", auth.RolePsychologist), http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, tt.as, http.MethodPost, "/users/", tt.body); rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUpdateUserRules(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, auth.RoleAdmin, "admin@example.com", "secret1")
	psych := f.seed(t, auth.RolePsychologist, "psych@example.com", "secret1")
	other := f.seed(t, auth.RolePsychologist, "other@example.com", "secret1")

	if rec := f.do(t, psych, http.MethodPut, "/users/"+psych.ID.String(), map[string]any{"firstName": "X"}); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a psychologist updating a psychologist, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodPut, "/users/"+psych.ID.String(), map[string]any{"role": "ADMIN"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on role change, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodPut, "/users/"+psych.ID.String(), map[string]any{"email": other.Email}); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on duplicate email, got %d", rec.Code)
	}

	rec := f.do(t, admin, http.MethodPut, "/users/"+psych.ID.String(), map[string]any{"lastName": "Mora", "password": "newpass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := f.store.Get(context.Background(), psych.ID)
	if stored.LastName != "Mora" || !auth.CheckPassword(stored.PasswordHash, "newpass") {
		t.Error("Expected last name and password to be updated")
	}

	if rec := f.do(t, admin, http.MethodPut, "/users/"+admin.ID.String(), map[string]any{"firstName": "Root"}); rec.Code != http.StatusOK {
		t.Errorf("Expected admin to update themselves, got %d", rec.Code)
	}
	if rec := f.do(t, nil, http.MethodPut, "/users/"+admin.ID.String(), map[string]any{"firstName": "x"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, auth.RoleAdmin, "admin@example.com", "secret1")
	psych := f.seed(t, auth.RolePsychologist, "psych@example.com", "secret1")

	if rec := f.do(t, psych, http.MethodDelete, "/users/"+admin.ID.String(), nil); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodDelete, "/users/"+admin.ID.String(), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for the last admin, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodDelete, "/users/"+psych.ID.String(), nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	stored, _ := f.store.Get(context.Background(), psych.ID)
	if stored.Status {
		t.Error("Expected psychologist to be deactivated")
	}
	if rec := f.do(t, psych, http.MethodPut, "/users/"+psych.ID.String(), map[string]any{"firstName": "x"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a deactivated account, got %d", rec.Code)
	}
}

func (f *fixture) upload(t *testing.T, as *User, id types.ID, files map[string]string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, name := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		part.Write(content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/users/upload/"+id.String(), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, as))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadImages(t *testing.T) {
	f := newFixture(t)
	psych := f.seed(t, auth.RolePsychologist, "psych@example.com", "secret1")
	other := f.seed(t, auth.RolePsychologist, "other@example.com", "secret1")
	png := []byte("\x89PNG fake image")

	rec := f.upload(t, psych, psych.ID, map[string]string{"profileImage": "me.png"}, png)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first, _ := f.store.Get(context.Background(), psych.ID)
	if !strings.HasPrefix(first.Img, "http://files.test/uploads/users/") {
		t.Fatalf("Unexpected image URL %q", first.Img)
	}
	firstPath := filepath.Join(f.dir, f.files.KeyFromURL(first.Img))
	if _, err := os.Stat(firstPath); err != nil {
		t.Fatalf("Expected stored file: %v", err)
	}

	rec = f.upload(t, psych, psych.ID, map[string]string{"profileImage": "me2.jpg", "coverImage": "cover.jpeg"}, png)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(firstPath); !os.IsNotExist(err) {
		t.Error("Expected replaced image to be deleted")
	}
	second, _ := f.store.Get(context.Background(), psych.ID)
	if second.CoverImage == "" || second.Img == first.Img {
		t.Error("Expected both images to be set")
	}

	tests := []struct {
		name    string
		as      *User
		files   map[string]string
		content []byte
		status  int
	}{
		{"other account", other, map[string]string{"profileImage": "x.png"}, png, http.StatusForbidden},
		{"gif", psych, map[string]string{"profileImage": "x.gif"}, png, http.StatusBadRequest},
		{"too large", psych, map[string]string{"coverImage": "x.png"}, bytes.Repeat([]byte("a"), 100), http.StatusRequestEntityTooLarge},
		{"no files", psych, map[string]string{}, png, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.upload(t, tt.as, psych.ID, tt.files, tt.content); rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPsychologistAdminRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.seed(t, auth.RoleAdmin, "admin@example.com", "secret1")
	psych := f.seed(t, auth.RolePsychologist, "psych@example.com", "secret1")
	f.seed(t, auth.RolePsychologist, "other@example.com", "secret1")

	if rec := f.do(t, psych, http.MethodGet, "/psicologist/getPsicologo", nil); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for psychologist, got %d", rec.Code)
	}

	rec := f.do(t, admin, http.MethodGet, "/psicologist/getPsicologo", nil)
	var list struct {
		Total int `json:"total"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if list.Total != 2 {
		t.Errorf("Expected 2 psychologists, got %d", list.Total)
	}

	update := UpdatePsychologistRequest{FirstName: "Ana", LastName: "Ruiz", Email: "other@example.com"}
	if rec := f.do(t, admin, http.MethodPut, "/psicologist/updatePsicologi/"+psych.ID.String(), update); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodPut, "/psicologist/updatePsicologi/"+admin.ID.String(), UpdatePsychologistRequest{FirstName: "A", LastName: "B", Email: "x@example.com"}); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a non-psychologist, got %d", rec.Code)
	}

	path := "/psicologist/" + psych.ID.String() + "/changePasswordPsicologi"
	if rec := f.do(t, admin, http.MethodPut, path, ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "another"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for wrong current password, got %d", rec.Code)
	}
	if rec := f.do(t, admin, http.MethodPut, path, ChangePasswordRequest{CurrentPassword: "secret1", NewPassword: "another"}); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	stored, _ := f.store.Get(context.Background(), psych.ID)
	if !auth.CheckPassword(stored.PasswordHash, "another") {
		t.Error("Expected password to change")
	}
}

func TestGetAdminIsPublic(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, nil, http.MethodGet, "/users/admin", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without admin, got %d", rec.Code)
	}
	f.seed(t, auth.RoleAdmin, "admin@example.com", "secret1")
	if rec := f.do(t, nil, http.MethodGet, "/users/admin", nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestSeedDefaultAdmin(t *testing.T) {
	store := newMemoryStore()
	cfg := config.AuthConfig{DefaultAdminEmail: "Admin@System.com", DefaultAdminPassword: "changeme"}

	created, err := SeedDefaultAdmin(context.Background(), store, cfg, zap.NewNop())
	if err != nil || !created {
		t.Fatalf("Expected admin to be created, got %v %v", created, err)
	}
	admin, err := store.GetByEmail(context.Background(), "admin@system.com")
	if err != nil {
		t.Fatalf("Expected seeded admin: %v", err)
	}
	if admin.Role != auth.RoleAdmin || !auth.CheckPassword(admin.PasswordHash, "changeme") {
		t.Error("Unexpected seeded admin")
	}

	created, err = SeedDefaultAdmin(context.Background(), store, cfg, zap.NewNop())
	if err != nil || created {
		t.Errorf("Expected second seed to be a no-op, got %v %v", created, err)
	}
}
