// Package playlist is the persistent, ordered track list the mixer advances
// through, with a current-entry cursor.
package playlist

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/jota2rz/dualdeck/internal/models"
)

var (
	// ErrIndexOutOfRange is returned for positions outside the playlist.
	ErrIndexOutOfRange = errors.New("playlist index out of range")
	// ErrInvalidMode is returned by SetMode for unknown modes.
	ErrInvalidMode = errors.New("invalid playlist mode")
)

// Mode decides what follows the last entry.
type Mode string

const (
	// ModeRepeat wraps around to the first entry.
	ModeRepeat Mode = "repeat"
	// ModeDJ extends the playlist with a related track before wrapping.
	ModeDJ Mode = "dj"
)

const (
	modeKey  = "playlist_mode"
	indexKey = "playlist_index"
)

// Suggester picks a track related to seed that is not in exclude.
type Suggester interface {
	Suggest(seed models.Track, exclude map[string]bool) (models.Track, bool)
}

// Store is a playlist persisted in SQLite. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	suggest Suggester

	mu       sync.Mutex
	entries  []models.Track
	index    int
	mode     Mode
	onChange []func(index int)
}

// Open loads the playlist from db. suggest may be nil, in which case dj
// mode behaves like repeat.
func Open(db *sql.DB, suggest Suggester) (*Store, error) {
	s := &Store{db: db, suggest: suggest, mode: ModeRepeat}

	rows, err := db.Query("SELECT track_id, title, artist, thumbnail, duration, bpm FROM playlist_entries ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("playlist: load: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.Title, &t.Artist, &t.Thumbnail, &t.Duration, &t.BPM); err != nil {
			return nil, fmt.Errorf("playlist: scan: %w", err)
		}
		s.entries = append(s.entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("playlist: load: %w", err)
	}

	var v string
	if err := db.QueryRow("SELECT value FROM config WHERE key = ?", indexKey).Scan(&v); err == nil {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 && i < len(s.entries) {
			s.index = i
		}
	}
	if err := db.QueryRow("SELECT value FROM config WHERE key = ?", modeKey).Scan(&v); err == nil && Mode(v) == ModeDJ {
		s.mode = ModeDJ
	}
	return s, nil
}

// Entries returns a copy of the playlist.
func (s *Store) Entries() []models.PlaylistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PlaylistEntry, len(s.entries))
	for i, t := range s.entries {
		out[i] = models.PlaylistEntry{Position: i, Track: t}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Index returns the current entry position.
func (s *Store) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Current returns the current entry.
func (s *Store) Current() (models.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return models.Track{}, false
	}
	return s.entries[s.index], true
}

// OnIndexChange registers fn to run after the current index changes.
func (s *Store) OnIndexChange(fn func(index int)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Add appends t and returns its position.
func (s *Store) Add(t models.Track) (int, error) {
	s.mu.Lock()
	s.entries = append(s.entries, t)
	pos := len(s.entries) - 1
	err := s.saveLocked()
	s.mu.Unlock()
	return pos, err
}

// Insert places t right after the current entry, unless it is already in
// the playlist. It returns the track's position.
func (s *Store) Insert(t models.Track) (int, error) {
	s.mu.Lock()
	if i := s.findLocked(t.ID); i >= 0 {
		s.mu.Unlock()
		return i, nil
	}
	pos := 0
	if len(s.entries) > 0 {
		pos = s.index + 1
	}
	s.entries = slices.Insert(s.entries, pos, t)
	err := s.saveLocked()
	s.mu.Unlock()
	return pos, err
}

// Remove deletes the entry at i.
func (s *Store) Remove(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.entries) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	changed := false
	if s.index >= len(s.entries) {
		s.index = 0
		changed = true
	}
	err := s.saveLocked()
	idx, fns := s.index, slices.Clone(s.onChange)
	s.mu.Unlock()
	if changed {
		notify(fns, idx)
	}
	return err
}

// Clear empties the playlist.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.entries = nil
	s.index = 0
	err := s.saveLocked()
	fns := slices.Clone(s.onChange)
	s.mu.Unlock()
	notify(fns, 0)
	return err
}

// Move shifts the entry at i by delta positions (typically ±1).
func (s *Store) Move(i, delta int) error {
	return s.Reorder(i, i+delta)
}

// Reorder moves the entry at from to position to. The cursor stays on the
// same position, as in a drag-and-drop list.
func (s *Store) Reorder(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: %d -> %d", ErrIndexOutOfRange, from, to)
	}
	if from == to {
		return nil
	}
	t := s.entries[from]
	s.entries = slices.Delete(s.entries, from, from+1)
	s.entries = slices.Insert(s.entries, to, t)
	return s.saveLocked()
}

// SetIndex moves the cursor to i.
func (s *Store) SetIndex(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.entries) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	err := s.setIndexLocked(i)
	fns := slices.Clone(s.onChange)
	s.mu.Unlock()
	notify(fns, i)
	return err
}

// Focus moves the cursor to the first entry with trackID. Unknown tracks
// leave the cursor alone.
func (s *Store) Focus(trackID string) {
	s.mu.Lock()
	i := s.findLocked(trackID)
	if i < 0 || i == s.index {
		s.mu.Unlock()
		return
	}
	if err := s.setIndexLocked(i); err != nil {
		slog.Warn("playlist: persist index failed", "error", err)
	}
	fns := slices.Clone(s.onChange)
	s.mu.Unlock()
	notify(fns, i)
}

// Upcoming returns the entry after the current one, wrapping to the start.
// In dj mode at the last entry a related track is appended first; the most
// recent entries are tried as seeds before older ones.
func (s *Store) Upcoming() (models.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if n == 0 {
		return models.Track{}, false
	}
	if s.mode == ModeDJ && s.suggest != nil && s.index >= n-1 {
		if t, ok := s.suggestLocked(); ok {
			s.entries = append(s.entries, t)
			if err := s.saveLocked(); err != nil {
				slog.Warn("playlist: persist suggestion failed", "error", err)
			}
			slog.Info("playlist: dj suggestion added", "track", t.ID, "title", t.Title)
			return t, true
		}
	}
	return s.entries[(s.index+1)%n], true
}

func (s *Store) suggestLocked() (models.Track, bool) {
	exclude := make(map[string]bool, len(s.entries))
	for _, t := range s.entries {
		exclude[t.ID] = true
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if t, ok := s.suggest.Suggest(s.entries[i], exclude); ok {
			return t, true
		}
	}
	return models.Track{}, false
}

// Mode returns the playlist mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes and persists the playlist mode.
func (s *Store) SetMode(m Mode) error {
	if m != ModeRepeat && m != ModeDJ {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	return s.putLocked(modeKey, string(m))
}

func (s *Store) findLocked(trackID string) int {
	return slices.IndexFunc(s.entries, func(t models.Track) bool { return t.ID == trackID })
}

func (s *Store) setIndexLocked(i int) error {
	s.index = i
	return s.putLocked(indexKey, strconv.Itoa(i))
}

func (s *Store) putLocked(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("playlist: save %s: %w", key, err)
	}
	return nil
}

// saveLocked rewrites the stored playlist and index.
func (s *Store) saveLocked() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("playlist: save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM playlist_entries"); err != nil {
		return fmt.Errorf("playlist: save: %w", err)
	}
	for i, t := range s.entries {
		if _, err := tx.Exec(
			"INSERT INTO playlist_entries (position, track_id, title, artist, thumbnail, duration, bpm) VALUES (?, ?, ?, ?, ?, ?, ?)",
			i, t.ID, t.Title, t.Artist, t.Thumbnail, t.Duration, t.BPM,
		); err != nil {
			return fmt.Errorf("playlist: save entry %d: %w", i, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		indexKey, strconv.Itoa(s.index),
	); err != nil {
		return fmt.Errorf("playlist: save index: %w", err)
	}
	return tx.Commit()
}

func notify(fns []func(int), index int) {
	for _, fn := range fns {
		fn(index)
	}
}
