package auth

import (
	"context"
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Repository defines the account lookups and writes the auth module needs.
// *users.Repository satisfies it.
type Repository interface {
	IdentityLoader
	FindByLogin(ctx context.Context, login string) (*users.User, error)
	FindByDiscordID(ctx context.Context, discordID string) (*users.User, error)
	Create(ctx context.Context, in users.NewUser) (*users.User, error)
	UpdateEmail(ctx context.Context, id int64, email string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

var _ Repository = (*users.Repository)(nil)
