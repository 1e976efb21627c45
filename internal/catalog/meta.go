package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Meta caches scanned duration and BPM per file in SQLite, keyed by path and
// invalidated by modification time.
type Meta struct {
	db *sql.DB
}

// NewMeta creates a metadata cache backed by db.
func NewMeta(db *sql.DB) *Meta {
	return &Meta{db: db}
}

type meta struct {
	duration float64
	bpm      float64
}

// get returns the cached entry for path if it was stored for modTime.
func (m *Meta) get(path string, modTime int64) (meta, bool) {
	var e meta
	err := m.db.QueryRow(
		`SELECT duration, bpm FROM track_meta WHERE path = ? AND mod_time = ?`,
		path, modTime,
	).Scan(&e.duration, &e.bpm)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("track meta lookup failed", "path", path, "error", err)
		}
		return meta{}, false
	}
	return e, true
}

func (m *Meta) set(path string, modTime int64, e meta) error {
	_, err := m.db.Exec(
		`INSERT INTO track_meta (path, duration, bpm, mod_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET duration = excluded.duration, bpm = excluded.bpm, mod_time = excluded.mod_time`,
		path, e.duration, e.bpm, modTime,
	)
	if err != nil {
		return fmt.Errorf("catalog: store meta for %s: %w", path, err)
	}
	return nil
}

// Cleanup removes entries whose files no longer exist and returns how many
// were dropped.
func (m *Meta) Cleanup() int {
	rows, err := m.db.Query(`SELECT path FROM track_meta`)
	if err != nil {
		slog.Warn("track meta cleanup: query failed", "error", err)
		return 0
	}
	var gone []string
	for rows.Next() {
		var path string
		if rows.Scan(&path) != nil {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			gone = append(gone, path)
		}
	}
	if err := rows.Err(); err != nil {
		slog.Warn("track meta cleanup: rows iteration error", "error", err)
	}
	rows.Close()

	removed := 0
	for _, path := range gone {
		if _, err := m.db.Exec(`DELETE FROM track_meta WHERE path = ?`, path); err != nil {
			slog.Warn("track meta cleanup: delete failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("track meta cleanup", "removed", removed)
	}
	return removed
}
