package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

type roleRepoPG struct {
	pool *pgxpool.Pool
}

func NewRoleRepoPG(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{pool: pool}
}

func (r *roleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *roleRepoPG) GetAdminRole(ctx context.Context, id uuid.UUID) (*AdminRole, error) {
	var a AdminRole
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, role, username, permissions, created_at, updated_at
		FROM admin_users WHERE id = $1`, id).
		Scan(&a.ID, &a.Role, &a.Username, &a.Permissions, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *roleRepoPG) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	var m Membership
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, crn, specialty, created_at FROM nutritionists WHERE id = $1`, id).
		Scan(&m.ID, &m.CRN, &m.Specialty, &m.CreatedAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *roleRepoPG) UpsertAdminRole(ctx context.Context, a *AdminRole) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admin_users (id, role, username, permissions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
			SET role = EXCLUDED.role,
				username = COALESCE(EXCLUDED.username, admin_users.username),
				permissions = EXCLUDED.permissions,
				updated_at = NOW()
		RETURNING created_at, updated_at`,
		a.ID, a.Role, a.Username, a.Permissions).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "admin_users_username_key") {
		return ErrUsernameTaken
	}
	return err
}

func (r *roleRepoPG) DeleteAdminRole(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM admin_users WHERE id = $1`, id)
	return err
}

func (r *roleRepoPG) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM nutritionists WHERE id = $1`, id)
	return err
}
