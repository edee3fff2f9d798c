package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort     = errors.New("password is too short")
	ErrPasswordMissingClass = errors.New("password must mix the required character classes")
	ErrPasswordInvalidChars = errors.New("password contains characters that are not allowed")
	ErrPasswordBannedWord   = errors.New("password contains a common word or sequence")
	ErrInvalidUsername      = errors.New("username must be at least 8 letters, digits or underscores")
)

// Patient accounts: at least 8 characters, one letter, one digit and one of
// @$!%*#?&, using only letters, digits and those specials.
const (
	patientMinLength = 8
	patientSpecials  = "@$!%*#?&"
)

// Admin accounts: at least 12 characters with upper, lower, digit and special,
// and none of the banned substrings.
const (
	adminMinLength = 12
	adminSpecials  = `!@#$%^&*(),.?":{}|<>`
)

var bannedPasswordParts = []string{"password", "admin", "123456", "qwerty", "abc", "123", "xyz"}

var adminUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{8,}$`)

// ValidatePatientPassword applies the self-registration policy.
func ValidatePatientPassword(pw string) error {
	if len(pw) < patientMinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrPasswordTooShort, patientMinLength)
	}
	var letter, digit, special bool
	for _, r := range pw {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(patientSpecials, r):
			special = true
		default:
			return ErrPasswordInvalidChars
		}
	}
	if !letter || !digit || !special {
		return fmt.Errorf("%w: a letter, a digit and one of %s", ErrPasswordMissingClass, patientSpecials)
	}
	return nil
}

// ValidateAdminPassword applies the stricter policy for administrative
// accounts and admin-initiated resets.
func ValidateAdminPassword(pw string) error {
	if len(pw) < adminMinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrPasswordTooShort, adminMinLength)
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(adminSpecials, r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return fmt.Errorf("%w: upper case, lower case, digit and special character", ErrPasswordMissingClass)
	}
	lowered := strings.ToLower(pw)
	for _, banned := range bannedPasswordParts {
		if strings.Contains(lowered, banned) {
			return ErrPasswordBannedWord
		}
	}
	return nil
}

// ValidateAdminUsername checks the administrative username format.
func ValidateAdminUsername(username string) error {
	if !adminUsernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// HashPassword returns the bcrypt hash of pw.
func HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether pw matches the bcrypt hash.
func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
