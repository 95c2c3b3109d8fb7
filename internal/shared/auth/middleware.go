package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/types"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated account for a request.
type Identity struct {
	ID     types.ID `json:"uid"`
	Role   Role     `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Active bool     `json:"-"`
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// IsPsychologist is true for psychologists and admins, which share
// clinical access.
func (i *Identity) IsPsychologist() bool {
	return i != nil && (i.Role == RolePsychologist || i.Role == RoleAdmin)
}

// Can checks a permission against the identity's role.
func (i *Identity) Can(perm Permission) bool {
	return i != nil && HasPermission(i.Role, perm)
}

// IdentityStore resolves the account behind a token. The store, not the
// token, is authoritative for role and status.
type IdentityStore interface {
	LookupIdentity(ctx context.Context, id types.ID) (*Identity, error)
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the request identity, or nil when unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// Middleware authenticates requests with a bearer token (or the x-token
// header) and attaches the account identity to the context.
func Middleware(secret string, store IdentityStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := Authenticate(r, secret, store)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalMiddleware attaches an identity when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalMiddleware(secret string, store IdentityStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenFromRequest(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := Authenticate(r, secret, store)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Authenticate resolves the identity for a request.
func Authenticate(r *http.Request, secret string, store IdentityStore) (*Identity, error) {
	tokenString := tokenFromRequest(r)
	if tokenString == "" {
		return nil, errors.Unauthorized("missing authorization token")
	}

	uid, _, err := ParseToken(secret, tokenString)
	if err != nil {
		return nil, errors.Unauthorized("invalid token")
	}

	identity, err := store.LookupIdentity(r.Context(), uid)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Unauthorized("invalid token: user does not exist")
		}
		return nil, err
	}
	if !identity.Active {
		return nil, errors.Unauthorized("invalid token: user is inactive")
	}
	return identity, nil
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("x-token"))
}

// RequireRoles creates middleware that requires one of the given roles.
func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := FromContext(r.Context())
			if identity == nil {
				httpx.WriteError(w, errors.Unauthorized("authentication required"))
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.WriteError(w, errors.Forbidden("insufficient permissions"))
		})
	}
}

// RequirePermission creates middleware that requires a permission.
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := FromContext(r.Context())
			if identity == nil {
				httpx.WriteError(w, errors.Unauthorized("authentication required"))
				return
			}
			if !identity.Can(perm) {
				httpx.WriteError(w, errors.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePsychologist allows psychologists and admins.
func RequirePsychologist(next http.Handler) http.Handler {
	return RequireRoles(RolePsychologist, RoleAdmin)(next)
}

// RequireAdmin allows admins only.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRoles(RoleAdmin)(next)
}
