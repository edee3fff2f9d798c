package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

// =========== Identity Repository ===========

type identityRepoPG struct{ pool *pgxpool.Pool }

func NewIdentityRepoPG(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepoPG{pool: pool}
}

func (r *identityRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const identityCols = `id, email, password_hash, metadata, created_at, last_sign_in_at`

func scanIdentity(row pgx.Row) (*Identity, error) {
	var i Identity
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.Metadata, &i.CreatedAt, &i.LastSignInAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *identityRepoPG) Create(ctx context.Context, i *Identity) error {
	i.ID = uuid.New()
	i.Email = strings.ToLower(i.Email)
	if i.Metadata == nil {
		i.Metadata = map[string]string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO identities (id, email, password_hash, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		i.ID, i.Email, i.PasswordHash, i.Metadata).Scan(&i.CreatedAt)
	if db.IsUniqueViolation(err, "identities_email_key") {
		return ErrEmailTaken
	}
	return err
}

func (r *identityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return scanIdentity(r.conn(ctx).QueryRow(ctx, `SELECT `+identityCols+` FROM identities WHERE id = $1`, id))
}

func (r *identityRepoPG) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM identities WHERE lower(email) = lower($1)`, email))
}

func (r *identityRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE identities SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *identityRepoPG) TouchSignIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE identities SET last_sign_in_at = $2 WHERE id = $1`, id, at)
	return err
}

// =========== Reset Token Repository ===========

type resetTokenRepoPG struct{ pool *pgxpool.Pool }

func NewResetTokenRepoPG(pool *pgxpool.Pool) ResetTokenRepository {
	return &resetTokenRepoPG{pool: pool}
}

func (r *resetTokenRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *resetTokenRepoPG) Create(ctx context.Context, t *ResetToken) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO password_reset_tokens (token_hash, identity_id, expires_at)
		VALUES ($1, $2, $3)`,
		t.TokenHash, t.IdentityID, t.ExpiresAt)
	return err
}

func (r *resetTokenRepoPG) Consume(ctx context.Context, tokenHash string, now time.Time) (*ResetToken, error) {
	var t ResetToken
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING token_hash, identity_id, expires_at, used_at`,
		tokenHash, now).Scan(&t.TokenHash, &t.IdentityID, &t.ExpiresAt, &t.UsedAt)
	if db.IsNotFound(err) {
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
