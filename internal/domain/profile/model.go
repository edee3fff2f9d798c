package profile

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("profile not found")
	ErrAlreadyExists    = errors.New("profile already exists")
	ErrProfileBootstrap = errors.New("failed to create user profile")
	ErrUsernameTaken    = errors.New("username already in use")
	ErrInvalidUsername  = errors.New("username must be 3 to 30 letters, digits or underscores")
	ErrFullNameRequired = errors.New("full_name is required")
	ErrTooManyInterests = errors.New("maximum 5 interests allowed")
	ErrInvalidBirthDate = errors.New("birth_date must be YYYY-MM-DD")
	ErrInvalidTheme     = errors.New("theme must be light or dark")
)

const MaxInterests = 5

const dateLayout = "2006-01-02"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// Profile maps to the profiles table. There is exactly one per identity.
type Profile struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	Email              string       `db:"email" json:"email"`
	FullName           string       `db:"full_name" json:"full_name"`
	Username           *string      `db:"username" json:"username,omitempty"`
	Bio                *string      `db:"bio" json:"bio,omitempty"`
	City               *string      `db:"city" json:"city,omitempty"`
	State              *string      `db:"state" json:"state,omitempty"`
	BirthDate          *string      `db:"birth_date" json:"birth_date,omitempty"`
	Gender             *string      `db:"gender" json:"gender,omitempty"`
	Phone              string       `db:"phone" json:"phone"`
	AvatarURL          *string      `db:"avatar_url" json:"avatar_url,omitempty"`
	CoverImageURL      *string      `db:"cover_image_url" json:"cover_image_url,omitempty"`
	SocialLinks        []SocialLink `db:"social_links" json:"social_links"`
	Interests          []string     `db:"interests" json:"interests"`
	Theme              string       `db:"theme" json:"theme"`
	NotifyEmail        bool         `db:"notify_email" json:"notify_email"`
	NotifyPush         bool         `db:"notify_push" json:"notify_push"`
	IsPublic           bool         `db:"is_public" json:"is_public"`
	TutorialShown      bool         `db:"tutorial_shown" json:"tutorial_shown"`
	IsActive           bool         `db:"is_active" json:"is_active"`
	IsProfileCompleted bool         `db:"is_profile_completed" json:"is_profile_completed"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// NewDefault builds the profile created on first login. The birth date is a
// placeholder set to today until the user customizes it.
func NewDefault(id uuid.UUID, email, displayName string, today time.Time) *Profile {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = email
		if at := strings.IndexByte(email, '@'); at > 0 {
			name = email[:at]
		}
	}
	birth := today.Format(dateLayout)
	return &Profile{
		ID:          id,
		Email:       email,
		FullName:    name,
		BirthDate:   &birth,
		SocialLinks: []SocialLink{},
		Interests:   []string{},
		Theme:       "light",
		NotifyEmail: true,
		NotifyPush:  true,
		IsPublic:    true,
		IsActive:    true,
	}
}

// CustomizeRequest is the body of PUT /profile. Nil fields are left unchanged
// except full_name and username, which are required.
type CustomizeRequest struct {
	FullName      string       `json:"full_name"`
	Username      string       `json:"username"`
	Bio           *string      `json:"bio"`
	City          *string      `json:"city"`
	State         *string      `json:"state"`
	BirthDate     *string      `json:"birth_date"`
	Gender        *string      `json:"gender"`
	Phone         *string      `json:"phone"`
	SocialLinks   []SocialLink `json:"social_links"`
	Interests     []string     `json:"interests"`
	Theme         *string      `json:"theme"`
	NotifyEmail   *bool        `json:"notify_email"`
	NotifyPush    *bool        `json:"notify_push"`
	IsPublic      *bool        `json:"is_public"`
	TutorialShown *bool        `json:"tutorial_shown"`
}

// ValidateUsername checks the public profile handle format.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// Validate checks the request before any storage call.
func (r *CustomizeRequest) Validate() error {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Username = strings.TrimSpace(r.Username)
	if r.FullName == "" {
		return ErrFullNameRequired
	}
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if len(r.Interests) > MaxInterests {
		return ErrTooManyInterests
	}
	if r.BirthDate != nil && *r.BirthDate != "" {
		if _, err := time.Parse(dateLayout, *r.BirthDate); err != nil {
			return ErrInvalidBirthDate
		}
	}
	if r.Theme != nil && *r.Theme != "light" && *r.Theme != "dark" {
		return ErrInvalidTheme
	}
	return nil
}

// Apply copies the request onto p and marks it completed.
func (r *CustomizeRequest) Apply(p *Profile) {
	p.FullName = r.FullName
	username := r.Username
	p.Username = &username
	if r.Bio != nil {
		p.Bio = r.Bio
	}
	if r.City != nil {
		p.City = r.City
	}
	if r.State != nil {
		p.State = r.State
	}
	if r.BirthDate != nil && *r.BirthDate != "" {
		p.BirthDate = r.BirthDate
	}
	if r.Gender != nil {
		p.Gender = r.Gender
	}
	if r.Phone != nil {
		p.Phone = *r.Phone
	}
	if r.SocialLinks != nil {
		p.SocialLinks = compactLinks(r.SocialLinks)
	}
	if r.Interests != nil {
		p.Interests = compactStrings(r.Interests)
	}
	if r.Theme != nil {
		p.Theme = *r.Theme
	}
	if r.NotifyEmail != nil {
		p.NotifyEmail = *r.NotifyEmail
	}
	if r.NotifyPush != nil {
		p.NotifyPush = *r.NotifyPush
	}
	if r.IsPublic != nil {
		p.IsPublic = *r.IsPublic
	}
	if r.TutorialShown != nil {
		p.TutorialShown = *r.TutorialShown
	}
	p.IsProfileCompleted = true
}

// compactLinks drops rows left blank by the form.
func compactLinks(links []SocialLink) []SocialLink {
	out := make([]SocialLink, 0, len(links))
	for _, l := range links {
		l.Platform = strings.TrimSpace(l.Platform)
		l.URL = strings.TrimSpace(l.URL)
		if l.Platform != "" && l.URL != "" {
			out = append(out, l)
		}
	}
	return out
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
