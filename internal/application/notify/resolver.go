// Package notify resolves who must hear about a status transition and fans
// the notification out with per-recipient failure isolation.
package notify

import (
	"context"
	"log/slog"

	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/notification"
)

// Resolver computes the recipient set for an event from the agency's
// notification preferences and the supervisor graph.
type Resolver struct {
	agencies  agency.Repository
	directory agency.Directory
	logger    *slog.Logger
}

// NewResolver creates a recipient resolver.
func NewResolver(agencies agency.Repository, directory agency.Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		agencies:  agencies,
		directory: directory,
		logger:    logger,
	}
}

// Resolve returns the de-duplicated recipients for eventKey on the given
// assignment.
//
// The agency_admin preference block resolves to users holding the AgencyUser
// or CredentialingUser role within the assignment's agency. The user_manager
// block resolves to the subject's supervisors, restricted to those whose own
// membership in the assignment's agency carries the UsersManager role. A
// block whose preference is suffixed "_after_final_attempt" contributes
// recipients only when the subject has used their last allowed attempt.
func (r *Resolver) Resolve(ctx context.Context, a *assignment.CompetencyAssignment, eventKey string) ([]notification.Recipient, error) {
	ag, err := r.agencies.FindByID(ctx, a.AgencyID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var recipients []notification.Recipient
	add := func(role string, emails []string) {
		for _, email := range emails {
			if email == "" {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			recipients = append(recipients, notification.Recipient{Email: email, Role: role})
		}
	}

	if r.blockApplies(ag.Preferences, agency.PrefRoleAgencyAdmin, eventKey, a) {
		emails, err := r.directory.AdminEmails(ctx, a.AgencyID)
		if err != nil {
			return nil, err
		}
		add(agency.PrefRoleAgencyAdmin, emails)
	}

	if r.blockApplies(ag.Preferences, agency.PrefRoleUserManager, eventKey, a) {
		emails, err := r.directory.SupervisorEmails(ctx, a.SubjectUserID, a.AgencyID)
		if err != nil {
			return nil, err
		}
		add(agency.PrefRoleUserManager, emails)
	}

	r.logger.Debug("recipients resolved",
		"assignment_id", a.ID,
		"agency_id", a.AgencyID,
		"event", eventKey,
		"count", len(recipients),
	)
	return recipients, nil
}

func (r *Resolver) blockApplies(prefs agency.NotificationPreferences, role, eventKey string, a *assignment.CompetencyAssignment) bool {
	if !prefs.Enabled(role, eventKey) {
		return false
	}
	if prefs.FinalAttemptOnly(role, eventKey) && !a.OnFinalAttempt() {
		return false
	}
	return true
}
