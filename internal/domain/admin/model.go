package admin

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrInvalidTimeout = errors.New("session_timeout must be 15, 30, 60 or 120 minutes")
	ErrInvalidIP      = errors.New("invalid IP address or CIDR range")
	ErrInvalidRole    = errors.New("role must be patient, nutritionist or admin")
	ErrForbidden      = errors.New("not allowed to change this user")
	ErrSelfChange     = errors.New("admins cannot change their own status or role")
)

// User is one row of the admin user list: identity, profile and effective
// role joined together.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Username     *string    `json:"username,omitempty"`
	Phone        string     `json:"phone"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}

// UserFilter narrows the user list. Query matches name or email.
type UserFilter struct {
	Query  string
	Role   string
	Active *bool
}

type StatusRequest struct {
	Active bool `json:"is_active"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

type PasswordRequest struct {
	Password string `json:"password"`
}

type CreateAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// SecuritySettings maps to the single security_settings row.
type SecuritySettings struct {
	TwoFactorEnabled      bool       `db:"two_factor_enabled" json:"two_factor_enabled"`
	SessionTimeoutMinutes int        `db:"session_timeout_minutes" json:"session_timeout"`
	AllowedIPs            []string   `db:"allowed_ips" json:"allowed_ips"`
	UpdatedBy             *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// SessionTimeout returns the configured session length.
func (s *SecuritySettings) SessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeoutMinutes) * time.Minute
}

var allowedTimeouts = map[int]bool{15: true, 30: true, 60: true, 120: true}

var ipPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}(/\d{1,2})?$`)

// ValidIP accepts a dotted IPv4 address with an optional prefix length.
func ValidIP(s string) bool {
	if !ipPattern.MatchString(s) {
		return false
	}
	addr, prefix, hasPrefix := strings.Cut(s, "/")
	if hasPrefix {
		if n, _ := strconv.Atoi(prefix); n > 32 {
			return false
		}
	}
	for _, octet := range strings.Split(addr, ".") {
		if n, _ := strconv.Atoi(octet); n > 255 {
			return false
		}
	}
	return true
}

// Validate checks the timeout and every allowed IP, trimming blanks.
func (s *SecuritySettings) Validate() error {
	if !allowedTimeouts[s.SessionTimeoutMinutes] {
		return ErrInvalidTimeout
	}
	ips := make([]string, 0, len(s.AllowedIPs))
	for _, ip := range s.AllowedIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if !ValidIP(ip) {
			return fmt.Errorf("%w: %s", ErrInvalidIP, ip)
		}
		ips = append(ips, ip)
	}
	s.AllowedIPs = ips
	return nil
}
