package reconcile

import (
	"context"
	"reflect"
	"sort"

	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// Predicate evaluates a single field value from the current snapshot.
type Predicate func(value interface{}) bool

// Equals builds a predicate matching a field against a target value.
func Equals(target interface{}) Predicate {
	return func(value interface{}) bool {
		return reflect.DeepEqual(value, target)
	}
}

// DiffResult reports whether any tracked field changed between the two most
// recent snapshots of an item, and carries both snapshots unmodified.
type DiffResult struct {
	HasChanged bool
	Current    *revision.Snapshot
	Previous   *revision.Snapshot
}

// Detector decides whether writes and notifications are actually needed by
// diffing the revision log.
type Detector struct {
	revisions revision.Repository
}

// NewDetector creates a Detector over a revision repository.
func NewDetector(revisions revision.Repository) *Detector {
	return &Detector{revisions: revisions}
}

// Diff fetches the two highest-sequence snapshots for (collection, itemID)
// and compares the named fields by value.
//
// Zero snapshots is a programming error (shared.ErrMissingCurrentRevision):
// a diffed entity must have been written at least once. Exactly one snapshot
// is the benign legacy-import gap (shared.ErrMissingPreviousRevision), which
// callers must handle as a distinguishable outcome rather than a failure.
func (d *Detector) Diff(ctx context.Context, collection, itemID string, fields []string) (DiffResult, error) {
	current, previous, err := d.revisions.LatestTwo(ctx, collection, itemID)
	if err != nil {
		return DiffResult{}, err
	}
	if current == nil {
		return DiffResult{}, shared.ErrMissingCurrentRevision
	}
	if previous == nil {
		return DiffResult{Current: current}, shared.ErrMissingPreviousRevision
	}

	result := DiffResult{Current: current, Previous: previous}
	for _, field := range fields {
		curVal, _ := current.Field(field)
		prevVal, _ := previous.Field(field)
		if !reflect.DeepEqual(curVal, prevVal) {
			result.HasChanged = true
			break
		}
	}
	return result, nil
}

// MatchesPattern reports whether (i) at least one of the predicate fields
// changed between the two most recent snapshots AND (ii) every predicate
// holds against the current snapshot. The composite reads as "the item just
// transitioned into this state": callers use it to fire transition
// notifications once per transition instead of once per poll.
func (d *Detector) MatchesPattern(ctx context.Context, collection, itemID string, predicates map[string]Predicate) (bool, error) {
	fields := make([]string, 0, len(predicates))
	for field := range predicates {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	result, err := d.Diff(ctx, collection, itemID, fields)
	if err != nil {
		return false, err
	}
	if !result.HasChanged {
		return false, nil
	}
	for field, predicate := range predicates {
		value, _ := result.Current.Field(field)
		if !predicate(value) {
			return false, nil
		}
	}
	return true, nil
}

// FieldChangedTo reports whether the item's field just changed to the target
// value. Write paths use it as the idempotency check: when the revision
// history already reflects the target, the write (and its notification side
// effects) is skipped.
func (d *Detector) FieldChangedTo(ctx context.Context, collection, itemID, field string, target interface{}) (bool, error) {
	return d.MatchesPattern(ctx, collection, itemID, map[string]Predicate{field: Equals(target)})
}
