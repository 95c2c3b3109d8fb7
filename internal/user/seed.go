package user

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/config"
	"github.com/psique-app/platform/internal/shared/types"
)

// SeedDefaultAdmin creates the default administrator when no account exists
// yet. It reports whether an account was created.
func SeedDefaultAdmin(ctx context.Context, store Store, cfg config.AuthConfig, log *zap.Logger) (bool, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	hash, err := auth.HashPassword(cfg.DefaultAdminPassword)
	if err != nil {
		return false, err
	}

	admin := &User{
		ID:           types.NewID(),
		FirstName:    "Admin",
		LastName:     "Sistema",
		Email:        strings.ToLower(cfg.DefaultAdminEmail),
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		Status:       true,
	}
	if err := store.Create(ctx, admin); err != nil {
		return false, err
	}

	log.Warn("default admin created, change its password",
		zap.String("email", admin.Email),
		zap.String("user_id", admin.ID.String()),
	)
	return true, nil
}
