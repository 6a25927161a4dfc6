package store

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_runs (
	id             TEXT PRIMARY KEY,
	repository_id  TEXT NOT NULL,
	status         TEXT NOT NULL,
	phase          TEXT,
	revision       TEXT,
	commit_message TEXT,
	created_at     TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	counters       TEXT NOT NULL DEFAULT '{}',
	error          TEXT,
	error_detail   TEXT
);
CREATE INDEX IF NOT EXISTS idx_scan_runs_repo ON scan_runs(repository_id, created_at);

CREATE TABLE IF NOT EXISTS fingerprints (
	repository_id   TEXT NOT NULL,
	path            TEXT NOT NULL,
	content_id      TEXT NOT NULL,
	kind            TEXT,
	last_scanned_at TEXT NOT NULL,
	PRIMARY KEY (repository_id, path)
);

CREATE TABLE IF NOT EXISTS artifacts (
	repository_id TEXT NOT NULL,
	kind          TEXT NOT NULL,
	natural_id    TEXT NOT NULL,
	parent_ref    TEXT,
	title         TEXT,
	description   TEXT,
	status        TEXT,
	risk_level    TEXT,
	source_path   TEXT NOT NULL,
	content_id    TEXT,
	metadata      TEXT,
	content       TEXT,
	verification  TEXT,
	scan_run_id   TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (repository_id, kind, natural_id)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_path ON artifacts(repository_id, source_path);

CREATE TABLE IF NOT EXISTS edges (
	repository_id TEXT NOT NULL,
	child_kind    TEXT NOT NULL,
	child_id      TEXT NOT NULL,
	parent_ref    TEXT NOT NULL,
	parent_kind   TEXT NOT NULL,
	valid         INTEGER NOT NULL,
	reason        TEXT,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (repository_id, child_kind, child_id, parent_ref)
);
`
