package account

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/domain/access"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrFullNameRequired   = errors.New("full_name is required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidResetToken  = errors.New("reset link is invalid or has expired")
)

// Identity maps to the identities table.
type Identity struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	Email        string            `db:"email" json:"email"`
	PasswordHash string            `db:"password_hash" json:"-"`
	Metadata     map[string]string `db:"metadata" json:"metadata"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	LastSignInAt *time.Time        `db:"last_sign_in_at" json:"last_sign_in_at,omitempty"`
}

// DisplayName returns the full_name metadata entry, if any.
func (i *Identity) DisplayName() string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata["full_name"]
}

// ResetToken maps to password_reset_tokens. Only the sha256 of the token sent
// by email is stored.
type ResetToken struct {
	TokenHash  string     `db:"token_hash"`
	IdentityID uuid.UUID  `db:"identity_id"`
	ExpiresAt  time.Time  `db:"expires_at"`
	UsedAt     *time.Time `db:"used_at"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
	Phone     string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	Token       string             `json:"token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Identity    *Identity          `json:"identity"`
	Roles       []string           `json:"roles"`
	Destination access.Destination `json:"destination"`
	Path        string             `json:"path"`
}
