// Package flag models persisted feature flags. Flags gate whole capabilities;
// the reconciliation job reads its flag at the start of every tick and treats
// a missing row as disabled.
package flag

import "context"

// Flag keys this service reads.
const (
	// KeyExamProctoring gates the periodic proctoring reconciliation job.
	KeyExamProctoring = "enabled_exam_proctoring"
)

// FeatureFlag is a persisted (key, enabled) pair.
type FeatureFlag struct {
	Key     string
	Enabled bool
}

// Repository reads feature flags.
type Repository interface {
	// IsEnabled reports whether a flag exists and is switched on. Missing
	// flags read as false (fail closed), not as an error.
	IsEnabled(ctx context.Context, key string) (bool, error)
}
