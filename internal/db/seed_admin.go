package db

import (
	"context"

	"github.com/geocoder89/authcore/internal/config"
)

type AdminSeeder interface {
	EnsureAdmin(ctx context.Context, email, password, name string) (bool, error)
}

// EnsureAdminUser provisions the configured admin on first start. Without
// ADMIN_EMAIL and ADMIN_PASSWORD it does nothing.
func EnsureAdminUser(ctx context.Context, seeder AdminSeeder, cfg config.Config) (bool, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	return seeder.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName)
}
