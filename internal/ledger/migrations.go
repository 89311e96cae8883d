package ledger

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	organization  TEXT NOT NULL DEFAULT '',
	project       TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	dry_run       INTEGER NOT NULL DEFAULT 0,
	force_update  INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	canceled      INTEGER NOT NULL DEFAULT 0,
	created       INTEGER NOT NULL DEFAULT 0,
	updated       INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	comments_added       INTEGER NOT NULL DEFAULT 0,
	metadata_added       INTEGER NOT NULL DEFAULT 0,
	attachments_uploaded INTEGER NOT NULL DEFAULT 0,
	attachments_skipped  INTEGER NOT NULL DEFAULT 0,
	attachments_failed   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(organization, project, started_at);

CREATE TABLE IF NOT EXISTS issue_results (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	legacy_id     INTEGER NOT NULL,
	work_item_id  INTEGER NOT NULL DEFAULT 0,
	route         TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	comments_added       INTEGER NOT NULL DEFAULT 0,
	attachments_uploaded INTEGER NOT NULL DEFAULT 0,
	attachments_failed   INTEGER NOT NULL DEFAULT 0,
	recorded_at   DATETIME NOT NULL,
	PRIMARY KEY (run_id, legacy_id)
);

CREATE INDEX IF NOT EXISTS idx_issue_results_legacy ON issue_results(legacy_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
