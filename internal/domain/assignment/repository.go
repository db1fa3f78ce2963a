package assignment

import (
	"context"
)

// Repository provides access to competency assignments.
type Repository interface {
	// FindByID returns an assignment or shared.ErrAssignmentNotFound.
	FindByID(ctx context.Context, id int64) (*CompetencyAssignment, error)

	// UpdateStatus writes a new canonical status. The persistence layer
	// appends a revision snapshot in the same transaction so the change is
	// visible to the change detector.
	UpdateStatus(ctx context.Context, id int64, status Status) error

	// ListProctoredCandidates returns in-flight proctored exam assignments
	// with id > afterID, at most limit rows, ordered by id ascending. Only the
	// assignment with the maximum id per (subject, exam definition) pair is
	// returned, so superseded retake records are never re-checked.
	ListProctoredCandidates(ctx context.Context, afterID int64, limit int) ([]*CompetencyAssignment, error)
}
