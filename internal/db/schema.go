package db

import "database/sql"

// ensureSchema creates the database tables and seeds default config.
func ensureSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Default config values (inserted only if not present)
	INSERT OR IGNORE INTO config (key, value) VALUES ('videos_dir', './videos');
	INSERT OR IGNORE INTO config (key, value) VALUES ('crossfade_duration', '5');
	INSERT OR IGNORE INTO config (key, value) VALUES ('auto_mix', '1');
	INSERT OR IGNORE INTO config (key, value) VALUES ('master_volume', '80');
	INSERT OR IGNORE INTO config (key, value) VALUES ('playlist_mode', 'repeat');
	INSERT OR IGNORE INTO config (key, value) VALUES ('telemetry_max_age_ms', '1500');

	-- Scanned metadata for video files (avoids re-reading containers and
	-- re-running BPM analysis)
	CREATE TABLE IF NOT EXISTS track_meta (
		path       TEXT PRIMARY KEY,   -- absolute file path
		duration   REAL NOT NULL,      -- seconds, 0 = unknown
		bpm        REAL NOT NULL,      -- detected BPM, 0 = unknown
		mod_time   INTEGER NOT NULL,   -- file modification time (Unix seconds)
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Ordered playlist
	CREATE TABLE IF NOT EXISTS playlist_entries (
		position  INTEGER PRIMARY KEY, -- 0-based, contiguous
		track_id  TEXT NOT NULL,
		title     TEXT NOT NULL DEFAULT '',
		thumbnail TEXT NOT NULL DEFAULT '',
		duration  REAL NOT NULL DEFAULT 0
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	if err := addColumn(db, "playlist_entries", "artist", "ALTER TABLE playlist_entries ADD COLUMN artist TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return addColumn(db, "playlist_entries", "bpm", "ALTER TABLE playlist_entries ADD COLUMN bpm REAL NOT NULL DEFAULT 0")
}
