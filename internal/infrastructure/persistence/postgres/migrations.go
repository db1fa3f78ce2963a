// Package postgres implements the PostgreSQL persistence layer.
package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_agencies_and_users",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_assignments_and_revisions",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_feature_flags",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: AGENCIES, USERS, MEMBERSHIP, SUPERVISION
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Agencies. Provider credentials live as plain columns on the agency record;
-- notification preferences are the nested role -> event boolean map.
CREATE TABLE IF NOT EXISTS agencies (
    id TEXT PRIMARY KEY,
    name VARCHAR(255) NOT NULL DEFAULT '',
    provider_app_id TEXT NOT NULL DEFAULT '',
    provider_api_key TEXT NOT NULL DEFAULT '',
    notification_preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Users. Only the fields recipient resolution reads.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    display_name VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

-- Role-bearing agency membership.
CREATE TABLE IF NOT EXISTS agency_members (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,
    role VARCHAR(40) NOT NULL,

    PRIMARY KEY (user_id, agency_id, role),
    CONSTRAINT valid_role CHECK (role IN ('AgencyUser', 'CredentialingUser', 'UsersManager', 'Clinician'))
);

CREATE INDEX IF NOT EXISTS idx_agency_members_agency_role ON agency_members(agency_id, role);

-- Supervisor graph, scoped per agency: the same pair of users can be linked
-- through several agencies independently.
CREATE TABLE IF NOT EXISTS supervisor_links (
    subject_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    supervisor_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    agency_id TEXT NOT NULL REFERENCES agencies(id) ON DELETE CASCADE,

    PRIMARY KEY (subject_user_id, supervisor_user_id, agency_id),
    CONSTRAINT no_self_supervision CHECK (subject_user_id != supervisor_user_id)
);

CREATE INDEX IF NOT EXISTS idx_supervisor_links_subject ON supervisor_links(subject_user_id, agency_id);
`

const migration001Down = `
DROP TABLE IF EXISTS supervisor_links;
DROP TABLE IF EXISTS agency_members;
DROP TABLE IF EXISTS users;
DROP TABLE IF EXISTS agencies;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ASSIGNMENTS AND REVISION LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Competency assignments. The monotonic BIGSERIAL id doubles as the keyset
-- pagination cursor and as the "latest wins" tiebreaker for retakes.
CREATE TABLE IF NOT EXISTS assignments (
    id BIGSERIAL PRIMARY KEY,
    subject_user_id TEXT NOT NULL REFERENCES users(id),
    agency_id TEXT NOT NULL REFERENCES agencies(id),
    exam_definition_id TEXT NOT NULL,
    kind VARCHAR(30) NOT NULL DEFAULT 'exam',
    proctored BOOLEAN NOT NULL DEFAULT FALSE,
    status VARCHAR(20) NOT NULL DEFAULT 'IN_PROGRESS',
    attempts_used INTEGER NOT NULL DEFAULT 0,
    allowed_attempts INTEGER NOT NULL DEFAULT 0,
    score DOUBLE PRECISION,
    score_history JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_kind CHECK (kind IN ('exam', 'skills_checklist', 'policy', 'module')),
    CONSTRAINT valid_status CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'FAILED', 'FAILED_TIMED_OUT', 'INVALID')),
    CONSTRAINT valid_attempts CHECK (attempts_used >= 0 AND allowed_attempts >= 0)
);

CREATE INDEX IF NOT EXISTS idx_assignments_subject_exam ON assignments(subject_user_id, exam_definition_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_assignments_agency ON assignments(agency_id);
CREATE INDEX IF NOT EXISTS idx_assignments_reconcile ON assignments(id) WHERE proctored AND kind = 'exam' AND status = 'IN_PROGRESS';

-- Append-only revision log: one full snapshot per mutation of any tracked
-- entity. Rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS revisions (
    id BIGSERIAL PRIMARY KEY,
    collection VARCHAR(60) NOT NULL,
    item_id TEXT NOT NULL,
    sequence BIGINT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (collection, item_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_revisions_item ON revisions(collection, item_id, sequence DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS revisions;
DROP TABLE IF EXISTS assignments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: FEATURE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Feature flags. A missing key reads as disabled (fail-closed).
CREATE TABLE IF NOT EXISTS feature_flags (
    key TEXT PRIMARY KEY,
    enabled BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Seed the reconciliation gate disabled so operators flip a known key instead
-- of having to discover its name.
INSERT INTO feature_flags (key, enabled)
VALUES ('enabled_exam_proctoring', FALSE)
ON CONFLICT (key) DO NOTHING;
`

const migration003Down = `
DROP TABLE IF EXISTS feature_flags;
`
