package postgres

import (
	"context"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// FlagRepository implements flag.Repository. A missing key reads as disabled:
// the scheduler fails closed when nobody has seeded the flag.
type FlagRepository struct {
	conn *Connection
}

// NewFlagRepository creates a new feature flag repository.
func NewFlagRepository(conn *Connection) *FlagRepository {
	return &FlagRepository{conn: conn}
}

// IsEnabled reports whether the flag exists and is switched on.
func (r *FlagRepository) IsEnabled(ctx context.Context, key string) (bool, error) {
	var enabled bool
	err := r.conn.QueryRow(ctx, `SELECT enabled FROM feature_flags WHERE key = $1`, key).Scan(&enabled)
	if IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read feature flag %s: %w", key, err)
	}
	return enabled, nil
}
