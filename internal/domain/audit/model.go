package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded after privileged mutations.
const (
	ActionUserActivated            = "user_activated"
	ActionUserDeactivated          = "user_deactivated"
	ActionRoleChange               = "role_change"
	ActionPasswordReset            = "password_reset"
	ActionAppointmentStatusChanged = "appointment_status_changed"
	ActionSecuritySettingsUpdated  = "security_settings_updated"
	ActionAdminCreated             = "admin_created"
)

// Entry maps to the audit_logs table. Rows are append-only.
type Entry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Action      string     `db:"action" json:"action"`
	Details     string     `db:"details" json:"details"`
	PerformedBy *uuid.UUID `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// SearchParams filters the audit log. Zero values are ignored.
type SearchParams struct {
	Action string
	Actor  *uuid.UUID
	From   *time.Time
	To     *time.Time
}
