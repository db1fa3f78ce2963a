// Package revision models the append-only revision log the persistence layer
// writes on every tracked mutation. Reconciliation diffs the two most recent
// snapshots of an item to decide whether a write is actually needed.
package revision

import (
	"context"
	"time"
)

// Collections tracked by the revision log.
const (
	CollectionAssignments = "assignments"
	CollectionAgencies    = "agencies"
)

// Snapshot is one append-only record of an entity's full state at a point in
// time. Sequence is strictly increasing per (collection, item).
type Snapshot struct {
	Collection string
	ItemID     string
	Sequence   int64
	Data       map[string]interface{}
	CreatedAt  time.Time
}

// Field returns a named field from the snapshot data.
func (s *Snapshot) Field(name string) (interface{}, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}
	v, ok := s.Data[name]
	return v, ok
}

// Repository reads the revision log. Snapshots are created exclusively by the
// persistence layer on write; nothing mutates or deletes them.
type Repository interface {
	// LatestTwo returns the current and previous snapshots for an item, i.e.
	// the two highest-sequence rows, current first. previous is nil when only
	// one snapshot exists; both are nil when none exist.
	LatestTwo(ctx context.Context, collection, itemID string) (current, previous *Snapshot, err error)

	// Append records a new snapshot with the next sequence number.
	Append(ctx context.Context, collection, itemID string, data map[string]interface{}) error
}
