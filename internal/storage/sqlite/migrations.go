package sqlite

import "database/sql"

// Aggregates are stored as JSON documents next to the columns the queries
// filter on. The version column is authoritative for optimistic concurrency.
const schema = `
CREATE TABLE IF NOT EXISTS cheques (
    id TEXT PRIMARY KEY,
    emitter_id TEXT NOT NULL,
    target_site_id TEXT NOT NULL,
    status TEXT NOT NULL,
    emitted_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledgers (
    company_id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sites (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    priority TEXT NOT NULL,
    active INTEGER NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS disputes (
    id TEXT PRIMARY KEY,
    cheque_id TEXT NOT NULL,
    initiator_id TEXT NOT NULL,
    respondent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id TEXT PRIMARY KEY,
    processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cheques_emitter_id ON cheques(emitter_id);
CREATE INDEX IF NOT EXISTS idx_cheques_target_site_id ON cheques(target_site_id);
CREATE INDEX IF NOT EXISTS idx_cheques_status ON cheques(status);
CREATE INDEX IF NOT EXISTS idx_sites_location ON sites(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_disputes_status_created_at ON disputes(status, created_at);

CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_one_open_per_cheque
    ON disputes(cheque_id) WHERE status IN ('OPEN', 'PROPOSED');
`

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
