package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type IdentityRepository interface {
	Create(ctx context.Context, i *Identity) error
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchSignIn(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ResetTokenRepository interface {
	Create(ctx context.Context, t *ResetToken) error
	// Consume marks an unused, unexpired token used and returns it. Anything
	// else yields ErrInvalidResetToken.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*ResetToken, error)
}
