package sqlite

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	doc_path   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	module     TEXT NOT NULL,
	chapter    TEXT NOT NULL,
	position   INTEGER NOT NULL,
	text       TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_doc_position ON chunks(doc_path, position);
CREATE INDEX IF NOT EXISTS idx_chunks_module_chapter ON chunks(module, chapter);
`
