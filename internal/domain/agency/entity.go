// Package agency holds the read model this service needs from the agency and
// role data it does not own: provider credentials, notification preferences,
// and the member/supervisor directory used for recipient resolution.
package agency

import (
	"context"
	"strings"
)

// Internal role names referenced by recipient resolution.
const (
	RoleAgencyUser        = "AgencyUser"
	RoleCredentialingUser = "CredentialingUser"
	RoleUsersManager      = "UsersManager"
	RoleClinician         = "Clinician"
)

// Preference block keys.
const (
	PrefRoleAgencyAdmin = "agency_admin"
	PrefRoleUserManager = "user_manager"
	PrefRoleClinician   = "clinician"
)

// Notification event keys.
const (
	EventExamCompletion = "exam_completion"
	EventInvalidEmail   = "invalid_email"
)

// finalAttemptSuffix gates delivery of an event to the last attempt only.
const finalAttemptSuffix = "_after_final_attempt"

// ProviderCredential is the per-agency (appId, apiKey) pair for the amx
// signature scheme. The api key is stored base64-encoded.
type ProviderCredential struct {
	AppID  string
	APIKey string
}

// Configured reports whether the agency can sign or verify provider traffic.
func (c ProviderCredential) Configured() bool {
	return c.AppID != "" && c.APIKey != ""
}

// NotificationPreferences is a nested boolean map keyed by preference role
// block and then by event key.
type NotificationPreferences map[string]map[string]bool

// Enabled reports whether an event is switched on for a role block, counting
// the "_after_final_attempt" variant as enabled too.
func (p NotificationPreferences) Enabled(role, event string) bool {
	block, ok := p[role]
	if !ok {
		return false
	}
	return block[event] || block[event+finalAttemptSuffix]
}

// FinalAttemptOnly reports whether delivery for an event is restricted to the
// subject's last allowed attempt.
func (p NotificationPreferences) FinalAttemptOnly(role, event string) bool {
	block, ok := p[role]
	if !ok {
		return false
	}
	return block[event+finalAttemptSuffix] && !block[event]
}

// Agency is the subset of the agency record this service reads.
type Agency struct {
	ID          string
	Name        string
	Credential  ProviderCredential
	Preferences NotificationPreferences
}

// Repository provides read access to agencies.
type Repository interface {
	// FindByID returns an agency or shared.ErrAgencyNotFound.
	FindByID(ctx context.Context, id string) (*Agency, error)
}

// Directory answers the membership queries recipient resolution needs.
type Directory interface {
	// AdminEmails returns addresses of users holding the AgencyUser or
	// CredentialingUser role within the agency.
	AdminEmails(ctx context.Context, agencyID string) ([]string, error)

	// SupervisorEmails returns addresses of the subject's supervisors whose
	// own membership in the given agency carries the UsersManager role.
	// Supervisors linked to the subject through a different agency are not
	// returned.
	SupervisorEmails(ctx context.Context, subjectUserID, agencyID string) ([]string, error)
}

// NormalizeID restores base64 padding an upstream proxy may have stripped
// from an agency id query parameter.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	if rem := len(id) % 4; rem != 0 {
		id += strings.Repeat("=", 4-rem)
	}
	return id
}
