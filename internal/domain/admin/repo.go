package admin

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	List(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error)
}

type SettingsRepository interface {
	Get(ctx context.Context) (*SecuritySettings, error)
	Update(ctx context.Context, s *SecuritySettings) error
}
