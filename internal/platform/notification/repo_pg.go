package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const notificationCols = `id, kind, channel, recipient, subject, body, reference_type, reference_id,
	send_after, status, attempts, last_error, created_at, sent_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Kind, &n.Channel, &n.Recipient, &n.Subject, &n.Body,
		&n.ReferenceType, &n.ReferenceID, &n.SendAfter, &n.Status, &n.Attempts,
		&n.LastError, &n.CreatedAt, &n.SentAt)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	if n.SendAfter.IsZero() {
		n.SendAfter = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, kind, channel, recipient, subject, body,
			reference_type, reference_id, send_after, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		n.ID, n.Kind, n.Channel, n.Recipient, n.Subject, n.Body,
		n.ReferenceType, n.ReferenceID, n.SendAfter, n.Status).Scan(&n.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *repoPG) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE notifications SET send_after = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending' AND send_after <= NOW()
			ORDER BY send_after
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationCols, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status = 'sent', attempts = attempts + 1, last_error = '', sent_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (r *repoPG) MarkAttemptFailed(ctx context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error {
	if retryAt.IsZero() {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE notifications SET status = 'failed', attempts = attempts + 1, last_error = $2
			WHERE id = $1`, id, lastErr)
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET attempts = attempts + 1, last_error = $2, send_after = $3
		WHERE id = $1`, id, lastErr, retryAt)
	return err
}

func (r *repoPG) ResetFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status = 'pending', attempts = 0, last_error = '', send_after = NOW()
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrNotRetryable
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications WHERE `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

func (r *repoPG) ListByRecipients(ctx context.Context, recipients []string, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx, `recipient = ANY($1)`, recipients, limit, offset)
}
