package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ClaimDue leases up to limit due pending rows so concurrent dispatchers
	// never pick the same row. The lease pushes send_after forward.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	// MarkAttemptFailed records a failed attempt. A zero retryAt marks the row
	// failed for good, otherwise it is rescheduled.
	MarkAttemptFailed(ctx context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error
	ResetFailed(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Notification, int, error)
	ListByRecipients(ctx context.Context, recipients []string, limit, offset int) ([]*Notification, int, error)
}
