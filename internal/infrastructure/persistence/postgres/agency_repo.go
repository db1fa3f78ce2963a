package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGENCY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AgencyRepository implements both agency.Repository and agency.Directory:
// the agency read model and the membership queries recipient resolution runs.
type AgencyRepository struct {
	conn *Connection
}

// NewAgencyRepository creates a new agency repository.
func NewAgencyRepository(conn *Connection) *AgencyRepository {
	return &AgencyRepository{conn: conn}
}

// FindByID returns an agency or shared.ErrAgencyNotFound.
func (r *AgencyRepository) FindByID(ctx context.Context, id string) (*agency.Agency, error) {
	query := `
		SELECT id, name, provider_app_id, provider_api_key, notification_preferences
		FROM agencies
		WHERE id = $1`

	var ag agency.Agency
	var prefsJSON []byte
	err := r.conn.QueryRow(ctx, query, id).Scan(
		&ag.ID,
		&ag.Name,
		&ag.Credential.AppID,
		&ag.Credential.APIKey,
		&prefsJSON,
	)
	if IsNoRows(err) {
		return nil, shared.ErrAgencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find agency %s: %w", id, err)
	}

	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &ag.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshal preferences for agency %s: %w", id, err)
		}
	}
	return &ag, nil
}

// AdminEmails returns addresses of users holding the AgencyUser or
// CredentialingUser role within the agency.
func (r *AgencyRepository) AdminEmails(ctx context.Context, agencyID string) ([]string, error) {
	query := `
		SELECT DISTINCT u.email
		FROM users u
		JOIN agency_members m ON m.user_id = u.id
		WHERE m.agency_id = $1 AND m.role = ANY($2)
		ORDER BY u.email`

	roles := []string{agency.RoleAgencyUser, agency.RoleCredentialingUser}
	return r.queryEmails(ctx, query, agencyID, roles)
}

// SupervisorEmails returns addresses of the subject's supervisors whose
// membership in the given agency carries the UsersManager role. The join on
// the link's agency keeps supervisors from other agencies out even when they
// supervise the same subject elsewhere.
func (r *AgencyRepository) SupervisorEmails(ctx context.Context, subjectUserID, agencyID string) ([]string, error) {
	query := `
		SELECT DISTINCT u.email
		FROM users u
		JOIN supervisor_links l ON l.supervisor_user_id = u.id
		JOIN agency_members m ON m.user_id = u.id AND m.agency_id = l.agency_id
		WHERE l.subject_user_id = $1 AND l.agency_id = $2 AND m.role = $3
		ORDER BY u.email`

	return r.queryEmails(ctx, query, subjectUserID, agencyID, agency.RoleUsersManager)
}

func (r *AgencyRepository) queryEmails(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email row: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
