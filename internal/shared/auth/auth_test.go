package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
)

const testSecret = "test-secret"

type fakeStore map[types.ID]*Identity

func (s fakeStore) LookupIdentity(ctx context.Context, id types.ID) (*Identity, error) {
	identity, ok := s[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return identity, nil
}

func TestTokenRoundTrip(t *testing.T) {
	identity := &Identity{ID: types.NewID(), Role: RolePsychologist}

	token, err := IssueToken(testSecret, identity, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	uid, claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if uid != identity.ID {
		t.Errorf("Expected uid %s, got %s", identity.ID, uid)
	}
	if claims.Role != RolePsychologist {
		t.Errorf("Expected role PSYCHOLOGIST, got %s", claims.Role)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != time.Hour {
		t.Errorf("Expected 1h lifetime, got %s", claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	}
}

func TestParseTokenRejects(t *testing.T) {
	identity := &Identity{ID: types.NewID(), Role: RoleAdmin}

	expired, _ := IssueToken(testSecret, identity, -time.Minute)
	valid, _ := IssueToken(testSecret, identity, time.Hour)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"expired", testSecret, expired},
		{"wrong secret", "other-secret", valid},
		{"garbage", testSecret, "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseToken(tt.secret, tt.token); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	active := &Identity{ID: types.NewID(), Role: RolePsychologist, Active: true}
	inactive := &Identity{ID: types.NewID(), Role: RolePsychologist, Active: false}
	store := fakeStore{active.ID: active, inactive.ID: inactive}

	activeToken, _ := IssueToken(testSecret, active, time.Hour)
	inactiveToken, _ := IssueToken(testSecret, inactive, time.Hour)
	unknownToken, _ := IssueToken(testSecret, &Identity{ID: types.NewID(), Role: RoleAdmin}, time.Hour)

	var seen *Identity
	handler := Middleware(testSecret, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer token", "Authorization", "Bearer " + activeToken, http.StatusOK},
		{"x-token header", "x-token", activeToken, http.StatusOK},
		{"missing token", "", "", http.StatusUnauthorized},
		{"malformed header", "Authorization", "Token " + activeToken, http.StatusUnauthorized},
		{"inactive user", "Authorization", "Bearer " + inactiveToken, http.StatusUnauthorized},
		{"unknown user", "Authorization", "Bearer " + unknownToken, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && (seen == nil || seen.ID != active.ID) {
				t.Errorf("Expected identity %s in context, got %+v", active.ID, seen)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"psychologist", &Identity{Role: RolePsychologist}, http.StatusForbidden},
		{"admin", &Identity{Role: RoleAdmin}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.identity))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestIdentityRoles(t *testing.T) {
	admin := &Identity{Role: RoleAdmin}
	psych := &Identity{Role: RolePsychologist}
	student := &Identity{Role: RoleStudent}
	var none *Identity

	if !admin.IsPsychologist() {
		t.Error("Admin should have psychologist access")
	}
	if psych.IsAdmin() {
		t.Error("Psychologist should not be admin")
	}
	if student.IsPsychologist() {
		t.Error("Student should not have psychologist access")
	}
	if none.IsAdmin() || none.IsPsychologist() {
		t.Error("Nil identity should have no access")
	}
	if psych.Can(PermStatisticsGlobal) {
		t.Error("Psychologist should not see global statistics")
	}
	if !admin.Can(PermAuditRead) {
		t.Error("Admin should read audit")
	}
	if student.Can(PermStudentManage) {
		t.Error("Student role carries no permissions")
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("secreto123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "secreto123" {
		t.Error("Hash should not equal the plaintext")
	}
	if !CheckPassword(hash, "secreto123") {
		t.Error("Expected password to match")
	}
	if CheckPassword(hash, "otra") {
		t.Error("Expected wrong password to fail")
	}
}
