package access

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/platform/auth"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already in use")
	ErrInvalidRole   = errors.New("invalid role")
)

// Destination is where a client should land after authentication.
type Destination string

const (
	DestinationAdminDashboard        Destination = "admin_dashboard"
	DestinationNutritionistDashboard Destination = "nutritionist_dashboard"
	DestinationProfileCustomize      Destination = "profile_customize"
	DestinationProfile               Destination = "profile"
	DestinationLogin                 Destination = "login"

	// destinationPatient marks a resolution that still needs the profile
	// bootstrapper to choose between customize and profile.
	destinationPatient Destination = ""
)

var destinationPaths = map[Destination]string{
	DestinationAdminDashboard:        "/admin/dashboard",
	DestinationNutritionistDashboard: "/nutritionist/dashboard",
	DestinationProfileCustomize:      "/profile/customize",
	DestinationProfile:               "/profile",
	DestinationLogin:                 "/login",
}

// Path returns the client route for d.
func (d Destination) Path() string {
	return destinationPaths[d]
}

// Permissions is the admin_users.permissions document.
type Permissions struct {
	Users        bool `json:"users"`
	Appointments bool `json:"appointments"`
	MealPlans    bool `json:"meal_plans"`
	Settings     bool `json:"settings"`
}

// PermissionsFor returns the default grants for a staff role.
func PermissionsFor(role string) Permissions {
	elevated := role == auth.RoleAdmin || role == auth.RoleSuperAdmin
	return Permissions{
		Users:        elevated,
		Appointments: true,
		MealPlans:    true,
		Settings:     elevated,
	}
}

// AdminRole maps to the admin_users table.
type AdminRole struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Role        string      `db:"role" json:"role"`
	Username    *string     `db:"username" json:"username,omitempty"`
	Permissions Permissions `db:"permissions" json:"permissions"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

var staffRoles = map[string]bool{
	auth.RoleSuperAdmin:   true,
	auth.RoleAdmin:        true,
	auth.RoleNutritionist: true,
}

// IsStaffRole reports whether role can be stored in admin_users.
func IsStaffRole(role string) bool {
	return staffRoles[role]
}

// Membership maps to the nutritionists table.
type Membership struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CRN       *string   `db:"crn" json:"crn,omitempty"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Resolution is the outcome of role resolution for one identity.
type Resolution struct {
	Destination  Destination `json:"destination"`
	Path         string      `json:"path"`
	Roles        []string    `json:"roles"`
	AdminRole    string      `json:"admin_role,omitempty"`
	Nutritionist bool        `json:"nutritionist"`

	// Err holds a lookup failure that was logged and tolerated.
	Err error `json:"-"`
}

// RolesFor maps a stored role to the role set carried in access tokens.
func RolesFor(adminRole string, nutritionist bool) []string {
	switch {
	case adminRole == auth.RoleSuperAdmin:
		return []string{auth.RoleSuperAdmin, auth.RoleAdmin}
	case adminRole == auth.RoleAdmin:
		return []string{auth.RoleAdmin}
	case adminRole == auth.RoleNutritionist || nutritionist:
		return []string{auth.RoleNutritionist}
	default:
		return []string{auth.RolePatient}
	}
}
