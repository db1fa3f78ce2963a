package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caretrack/competency-hub/internal/domain/revision"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVISION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// RevisionRepository implements revision.Repository over the append-only
// revisions table.
type RevisionRepository struct {
	conn *Connection
}

// NewRevisionRepository creates a new revision repository.
func NewRevisionRepository(conn *Connection) *RevisionRepository {
	return &RevisionRepository{conn: conn}
}

// LatestTwo returns the two highest-sequence snapshots for an item. Missing
// snapshots come back as nil pointers, never as errors; the change detector
// owns the interpretation of a short history.
func (r *RevisionRepository) LatestTwo(ctx context.Context, collection, itemID string) (*revision.Snapshot, *revision.Snapshot, error) {
	query := `
		SELECT collection, item_id, sequence, data, created_at
		FROM revisions
		WHERE collection = $1 AND item_id = $2
		ORDER BY sequence DESC
		LIMIT 2`

	rows, err := r.conn.Query(ctx, query, collection, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("query revisions for %s/%s: %w", collection, itemID, err)
	}
	defer rows.Close()

	var snapshots []*revision.Snapshot
	for rows.Next() {
		var s revision.Snapshot
		var dataJSON []byte
		if err := rows.Scan(&s.Collection, &s.ItemID, &s.Sequence, &dataJSON, &s.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan revision row: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &s.Data); err != nil {
			return nil, nil, fmt.Errorf("unmarshal revision %s/%s seq %d: %w", collection, itemID, s.Sequence, err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	switch len(snapshots) {
	case 0:
		return nil, nil, nil
	case 1:
		return snapshots[0], nil, nil
	default:
		return snapshots[0], snapshots[1], nil
	}
}

// Append stores a new snapshot with the next sequence number for the item.
func (r *RevisionRepository) Append(ctx context.Context, collection, itemID string, data map[string]interface{}) error {
	return appendRevision(ctx, r.conn, collection, itemID, data)
}

// appendRevision inserts a snapshot computing the next per-item sequence in
// SQL. It runs against either the pool or a transaction so status writes can
// snapshot atomically.
func appendRevision(ctx context.Context, q Querier, collection, itemID string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal revision data for %s/%s: %w", collection, itemID, err)
	}

	query := `
		INSERT INTO revisions (collection, item_id, sequence, data)
		SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3
		FROM revisions
		WHERE collection = $1 AND item_id = $2`

	if _, err := q.Exec(ctx, query, collection, itemID, payload); err != nil {
		return fmt.Errorf("append revision for %s/%s: %w", collection, itemID, err)
	}
	return nil
}
