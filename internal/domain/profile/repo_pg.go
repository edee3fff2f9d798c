package profile

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const profileCols = `id, email, full_name, username, bio, city, state, birth_date::text, gender,
	phone, avatar_url, cover_image_url, social_links, interests, theme, notify_email,
	notify_push, is_public, tutorial_shown, is_active, is_profile_completed, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Username, &p.Bio, &p.City, &p.State,
		&p.BirthDate, &p.Gender, &p.Phone, &p.AvatarURL, &p.CoverImageURL, &p.SocialLinks,
		&p.Interests, &p.Theme, &p.NotifyEmail, &p.NotifyPush, &p.IsPublic, &p.TutorialShown,
		&p.IsActive, &p.IsProfileCompleted, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Profile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO profiles (id, email, full_name, username, bio, city, state, birth_date,
			gender, phone, social_links, interests, theme, notify_email, notify_push,
			is_public, tutorial_shown, is_active, is_profile_completed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::date,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		p.ID, p.Email, p.FullName, p.Username, p.Bio, p.City, p.State, p.BirthDate,
		p.Gender, p.Phone, p.SocialLinks, p.Interests, p.Theme, p.NotifyEmail, p.NotifyPush,
		p.IsPublic, p.TutorialShown, p.IsActive, p.IsProfileCompleted).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "profiles_pkey"):
		return ErrAlreadyExists
	case db.IsUniqueViolation(err, "profiles_username_key"):
		return ErrUsernameTaken
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Profile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE profiles SET full_name=$2, username=$3, bio=$4, city=$5, state=$6,
			birth_date=$7::date, gender=$8, phone=$9, social_links=$10, interests=$11,
			theme=$12, notify_email=$13, notify_push=$14, is_public=$15, tutorial_shown=$16,
			is_profile_completed=$17, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Username, p.Bio, p.City, p.State, p.BirthDate, p.Gender,
		p.Phone, p.SocialLinks, p.Interests, p.Theme, p.NotifyEmail, p.NotifyPush,
		p.IsPublic, p.TutorialShown, p.IsProfileCompleted).Scan(&p.UpdatedAt)
	switch {
	case db.IsNotFound(err):
		return ErrNotFound
	case db.IsUniqueViolation(err, "profiles_username_key"):
		return ErrUsernameTaken
	}
	return err
}

func (r *repoPG) setColumn(ctx context.Context, id uuid.UUID, column string, value interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE profiles SET `+column+` = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetAvatarURL(ctx context.Context, id uuid.UUID, url string) error {
	return r.setColumn(ctx, id, "avatar_url", url)
}

func (r *repoPG) SetCoverURL(ctx context.Context, id uuid.UUID, url string) error {
	return r.setColumn(ctx, id, "cover_image_url", url)
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.setColumn(ctx, id, "is_active", active)
}
