package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements assignment.Repository over PostgreSQL.
// Every status write appends a full revision snapshot in the same transaction,
// which is what keeps the change detector's view consistent with the table.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new assignment repository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

const assignmentColumns = `
	id, subject_user_id, agency_id, exam_definition_id, kind, proctored,
	status, attempts_used, allowed_attempts, score, score_history,
	created_at, updated_at`

func scanAssignment(row pgx.Row) (*assignment.CompetencyAssignment, error) {
	var a assignment.CompetencyAssignment
	var historyJSON []byte

	err := row.Scan(
		&a.ID,
		&a.SubjectUserID,
		&a.AgencyID,
		&a.ExamDefinitionID,
		&a.Kind,
		&a.Proctored,
		&a.Status,
		&a.AttemptsUsed,
		&a.AllowedAttempts,
		&a.Score,
		&historyJSON,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &a.ScoreHistory); err != nil {
			return nil, fmt.Errorf("unmarshal score history for assignment %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

// FindByID returns an assignment or shared.ErrAssignmentNotFound.
func (r *AssignmentRepository) FindByID(ctx context.Context, id int64) (*assignment.CompetencyAssignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM assignments WHERE id = $1`

	a, err := scanAssignment(r.conn.QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, shared.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment %d: %w", id, err)
	}
	return a, nil
}

// UpdateStatus writes the new canonical status and appends a revision
// snapshot of the updated row in the same transaction.
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id int64, status assignment.Status) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			UPDATE assignments
			SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING` + assignmentColumns

		a, err := scanAssignment(tx.QueryRow(ctx, query, id, string(status)))
		if IsNoRows(err) {
			return shared.ErrAssignmentNotFound
		}
		if err != nil {
			return fmt.Errorf("update assignment %d status: %w", id, err)
		}

		return appendRevision(ctx, tx, revision.CollectionAssignments,
			fmt.Sprintf("%d", a.ID), assignmentSnapshot(a))
	})
}

// ListProctoredCandidates returns the next page of reconciliation candidates
// after afterID, ordered by id.
//
// Per (subject, exam definition) pair only the highest-id row qualifies, so
// superseded retake records are never re-checked. The winner is picked over
// all proctored exam rows of the pair and only then filtered to IN_PROGRESS:
// restricting the group itself would let a stale in-flight row win its group
// after a newer retake already reached a terminal state. Keyset pagination on
// the monotonic id keeps pages stable under concurrent inserts.
func (r *AssignmentRepository) ListProctoredCandidates(ctx context.Context, afterID int64, limit int) ([]*assignment.CompetencyAssignment, error) {
	query := `
		SELECT` + assignmentColumns + `
		FROM assignments
		WHERE id IN (
			SELECT MAX(id)
			FROM assignments
			WHERE proctored AND kind = 'exam'
			GROUP BY subject_user_id, exam_definition_id
		)
		AND status = 'IN_PROGRESS'
		AND id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.conn.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list proctored candidates after %d: %w", afterID, err)
	}
	defer rows.Close()

	var candidates []*assignment.CompetencyAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		candidates = append(candidates, a)
	}
	return candidates, rows.Err()
}

// assignmentSnapshot builds the revision data map for an assignment row. The
// keys mirror the column names so change detection predicates address fields
// the same way in snapshots and SQL.
func assignmentSnapshot(a *assignment.CompetencyAssignment) map[string]interface{} {
	data := map[string]interface{}{
		"id":                 a.ID,
		"subject_user_id":    a.SubjectUserID,
		"agency_id":          a.AgencyID,
		"exam_definition_id": a.ExamDefinitionID,
		"kind":               a.Kind,
		"proctored":          a.Proctored,
		"status":             string(a.Status),
		"attempts_used":      a.AttemptsUsed,
		"allowed_attempts":   a.AllowedAttempts,
		"score_history":      a.ScoreHistory,
	}
	if a.Score != nil {
		data["score"] = *a.Score
	}
	return data
}
