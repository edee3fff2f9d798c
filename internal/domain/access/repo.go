package access

import (
	"context"

	"github.com/google/uuid"
)

// RoleRepository reads and writes staff role rows. Lookups return ErrNotFound
// when no row exists.
type RoleRepository interface {
	GetAdminRole(ctx context.Context, id uuid.UUID) (*AdminRole, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	UpsertAdminRole(ctx context.Context, r *AdminRole) error
	DeleteAdminRole(ctx context.Context, id uuid.UUID) error
	DeleteMembership(ctx context.Context, id uuid.UUID) error
}
