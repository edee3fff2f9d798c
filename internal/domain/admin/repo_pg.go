package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const userFrom = `
	FROM identities i
	LEFT JOIN profiles p ON p.id = i.id
	LEFT JOIN admin_users a ON a.id = i.id
	LEFT JOIN nutritionists n ON n.id = i.id`

const userRole = `COALESCE(a.role, CASE WHEN n.id IS NOT NULL THEN 'nutritionist' ELSE 'patient' END)`

const userCols = `i.id, i.email, COALESCE(p.full_name, ''), COALESCE(a.username, p.username), COALESCE(p.phone, ''),
	` + userRole + `, COALESCE(p.is_active, TRUE), i.created_at, i.last_sign_in_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Username, &u.Phone,
		&u.Role, &u.IsActive, &u.CreatedAt, &u.LastSignInAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+userFrom+` WHERE i.id = $1`, id))
}

func (r *userRepoPG) List(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1
	if q := strings.TrimSpace(filter.Query); q != "" {
		where += fmt.Sprintf(" AND (lower(p.full_name) LIKE $%d OR lower(i.email) LIKE $%d)", idx, idx)
		args = append(args, "%"+strings.ToLower(q)+"%")
		idx++
	}
	if filter.Role != "" {
		where += fmt.Sprintf(" AND "+userRole+" = $%d", idx)
		args = append(args, filter.Role)
		idx++
	}
	if filter.Active != nil {
		where += fmt.Sprintf(" AND COALESCE(p.is_active, TRUE) = $%d", idx)
		args = append(args, *filter.Active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*)"+userFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + userCols + userFrom + where +
		fmt.Sprintf(" ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// -- Security Settings Repository --

type settingsRepoPG struct{ pool *pgxpool.Pool }

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository { return &settingsRepoPG{pool: pool} }

func (r *settingsRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *settingsRepoPG) Get(ctx context.Context) (*SecuritySettings, error) {
	var s SecuritySettings
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT two_factor_enabled, session_timeout_minutes, allowed_ips, updated_by, updated_at
		FROM security_settings WHERE id = 1`).
		Scan(&s.TwoFactorEnabled, &s.SessionTimeoutMinutes, &s.AllowedIPs, &s.UpdatedBy, &s.UpdatedAt)
	if db.IsNotFound(err) {
		return &SecuritySettings{SessionTimeoutMinutes: 30, AllowedIPs: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if s.AllowedIPs == nil {
		s.AllowedIPs = []string{}
	}
	return &s, nil
}

func (r *settingsRepoPG) Update(ctx context.Context, s *SecuritySettings) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO security_settings (id, two_factor_enabled, session_timeout_minutes, allowed_ips, updated_by)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
			SET two_factor_enabled = EXCLUDED.two_factor_enabled,
				session_timeout_minutes = EXCLUDED.session_timeout_minutes,
				allowed_ips = EXCLUDED.allowed_ips,
				updated_by = EXCLUDED.updated_by,
				updated_at = NOW()
		RETURNING updated_at`,
		s.TwoFactorEnabled, s.SessionTimeoutMinutes, s.AllowedIPs, s.UpdatedBy).Scan(&s.UpdatedAt)
}
