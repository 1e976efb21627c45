// Package catalog indexes a directory of MP4 videos as playable tracks. It
// is the search and info provider behind the console and the source of
// track durations for the playback engines.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jota2rz/dualdeck/internal/bpm"
	"github.com/jota2rz/dualdeck/internal/models"
)

// ErrNotFound is returned for track ids that are not in the catalog.
var ErrNotFound = errors.New("track not found")

// MediaPrefix is the URL path the video directory is served under.
const MediaPrefix = "/media/"

const (
	searchThreshold = 0.30 // minimum fuzzy score for a search hit
	suggestPool     = 5    // closest-BPM candidates a suggestion is drawn from
	settleDelay     = 500 * time.Millisecond
)

var (
	videoExts = map[string]bool{".mp4": true}
	thumbExts = []string{".jpg", ".jpeg", ".png", ".webp"}
)

type indexed struct {
	track models.Track
	key   string // lowercase stem for matching
}

// Catalog is safe for concurrent use.
type Catalog struct {
	meta    *Meta // optional
	analyse bool
	inspect func(path string, analyse bool) (bpm.Result, error)

	mu     sync.RWMutex
	dir    string
	tracks []indexed
	byID   map[string]int
}

// New creates an empty catalog for dir. meta may be nil to disable the
// metadata cache. With analyse set, files without a BPM tag have their
// audio analysed. Call Scan to populate it.
func New(dir string, meta *Meta, analyse bool) *Catalog {
	return &Catalog{
		dir:     dir,
		meta:    meta,
		analyse: analyse,
		inspect: inspectFile,
		byID:    map[string]int{},
	}
}

func inspectFile(path string, analyse bool) (bpm.Result, error) {
	if analyse {
		return bpm.Analyse(path)
	}
	d, err := bpm.Duration(path)
	return bpm.Result{Duration: d}, err
}

// SetDir changes the directory. It takes effect on the next Scan.
func (c *Catalog) SetDir(dir string) {
	c.mu.Lock()
	c.dir = dir
	c.mu.Unlock()
}

// Dir returns the video directory.
func (c *Catalog) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir
}

// Scan re-reads the whole directory.
func (c *Catalog) Scan() error {
	snap, dir, err := c.snapshot()
	if err != nil {
		return fmt.Errorf("catalog: scan %s: %w", dir, err)
	}
	list := make([]indexed, 0, len(snap))
	for name, mod := range snap {
		list = append(list, c.index(dir, name, mod))
	}
	c.replace(list)

	withBPM := 0
	for _, ix := range list {
		if ix.track.BPM > 0 {
			withBPM++
		}
	}
	slog.Info("catalog scan complete", "dir", dir, "count", len(list), "withBPM", withBPM)
	return nil
}

// snapshot lists the video files in the directory with their mod times.
func (c *Catalog) snapshot() (map[string]int64, string, error) {
	dir := c.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dir, err
	}
	snap := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isVideo(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap[e.Name()] = info.ModTime().Unix()
	}
	return snap, dir, nil
}

func isVideo(name string) bool {
	return videoExts[strings.ToLower(filepath.Ext(name))] && !strings.HasPrefix(name, ".")
}

// index builds the track for one file, probing it unless the metadata
// cache already knows it.
func (c *Catalog) index(dir, name string, modTime int64) indexed {
	path := filepath.Join(dir, name)
	artist, title := parseName(name)
	t := models.Track{
		ID:        name,
		Title:     title,
		Artist:    artist,
		Thumbnail: thumbnail(dir, name),
		BPM:       parseBPM(name),
		Path:      path,
	}

	var m meta
	cached := false
	if c.meta != nil {
		m, cached = c.meta.get(path, modTime)
	}
	if !cached {
		res, err := c.inspect(path, c.analyse && t.BPM <= 0)
		if err != nil {
			slog.Warn("catalog scan failed", "file", name, "error", err)
		}
		m = meta{duration: res.Duration, bpm: res.BPM}
		if c.meta != nil && (m.duration > 0 || m.bpm > 0) {
			if err := c.meta.set(path, modTime, m); err != nil {
				slog.Warn("track meta write failed", "file", name, "error", err)
			}
		}
		if m.bpm > 0 {
			slog.Info("bpm detected", "file", name, "bpm", m.bpm)
		}
	}
	t.Duration = m.duration
	if t.BPM <= 0 {
		t.BPM = m.bpm
	}
	return indexed{track: t, key: strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))}
}

func thumbnail(dir, name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, ext := range thumbExts {
		if _, err := os.Stat(filepath.Join(dir, stem+ext)); err == nil {
			return MediaPrefix + stem + ext
		}
	}
	return ""
}

func (c *Catalog) replace(list []indexed) {
	slices.SortFunc(list, func(a, b indexed) int { return cmp.Compare(a.key, b.key) })
	byID := make(map[string]int, len(list))
	for i, ix := range list {
		byID[ix.track.ID] = i
	}
	c.mu.Lock()
	c.tracks = list
	c.byID = byID
	c.mu.Unlock()
}

// Len returns the number of tracks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tracks)
}

// All returns every track, sorted by file name.
func (c *Catalog) All() []models.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Track, len(c.tracks))
	for i, ix := range c.tracks {
		out[i] = ix.track
	}
	return out
}

// Info returns the track with the given id.
func (c *Catalog) Info(id string) (models.Track, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return models.Track{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.tracks[i].track, nil
}

// Duration returns the duration of id in seconds, 0 when unknown.
func (c *Catalog) Duration(id string) float64 {
	t, err := c.Info(id)
	if err != nil {
		return 0
	}
	return t.Duration
}

// Search ranks tracks against query: substring hits first (earlier is
// better), then fuzzy matches on the file stem, artist or title. An empty
// query lists everything. limit <= 0 means no limit.
func (c *Catalog) Search(query string, limit int) []models.Track {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	tracks := c.tracks
	c.mu.RUnlock()

	type hit struct {
		track models.Track
		score float64
	}
	var hits []hit
	for _, ix := range tracks {
		if q == "" {
			hits = append(hits, hit{ix.track, 1})
			continue
		}
		if i := strings.Index(ix.key, q); i >= 0 {
			hits = append(hits, hit{ix.track, 2 - float64(i)/float64(len(ix.key))})
			continue
		}
		s := max(
			similarity(q, ix.key),
			similarity(q, strings.ToLower(ix.track.Title)),
			similarity(q, strings.ToLower(ix.track.Artist)),
		)
		if s >= searchThreshold {
			hits = append(hits, hit{ix.track, s})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.score, a.score) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.Track, len(hits))
	for i, h := range hits {
		out[i] = h.track
	}
	return out
}

// Suggest picks a track to follow seed that is not in exclude. Tracks with
// a known BPM are ranked by half-time aware tempo distance and one of the
// closest few is chosen, stably per seed. Without tempo information a
// track by the same artist is preferred, then any track.
func (c *Catalog) Suggest(seed models.Track, exclude map[string]bool) (models.Track, bool) {
	c.mu.RLock()
	tracks := c.tracks
	c.mu.RUnlock()

	var pool []models.Track
	for _, ix := range tracks {
		if ix.track.ID != seed.ID && !exclude[ix.track.ID] {
			pool = append(pool, ix.track)
		}
	}
	if len(pool) == 0 {
		return models.Track{}, false
	}

	if seed.BPM > 0 {
		var tempo []models.Track
		for _, t := range pool {
			if t.BPM > 0 {
				tempo = append(tempo, t)
			}
		}
		if len(tempo) > 0 {
			slices.SortStableFunc(tempo, func(a, b models.Track) int {
				return cmp.Compare(bpm.Distance(seed.BPM, a.BPM), bpm.Distance(seed.BPM, b.BPM))
			})
			top := tempo[:min(suggestPool, len(tempo))]
			return top[stableIndex(seed.ID, len(top))], true
		}
	}
	if seed.Artist != "" {
		for _, t := range pool {
			if strings.EqualFold(t.Artist, seed.Artist) {
				return t, true
			}
		}
	}
	return pool[stableIndex(seed.ID, len(pool))], true
}

// Watch rescans changed files whenever the directory changes, calling
// onChange after each applied change. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: watch: %w", err)
	}
	defer w.Close()

	dir := c.Dir()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", dir, err)
	}
	slog.Info("catalog watcher started", "dir", dir)

	prev, _, _ := c.snapshot()
	// Writers emit bursts of events; wait for them to settle.
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isVideo(filepath.Base(ev.Name)) && !isThumb(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("catalog watcher error", "error", err)
		case <-settle.C:
			curr, at, err := c.snapshot()
			if err != nil {
				slog.Warn("catalog rescan failed", "dir", at, "error", err)
				continue
			}
			c.apply(prev, curr, at)
			prev = curr
			if onChange != nil {
				onChange()
			}
		}
	}
}

func isThumb(name string) bool {
	return slices.Contains(thumbExts, strings.ToLower(filepath.Ext(name)))
}

// apply updates the index from the difference between two snapshots.
// Only new and modified files are read.
func (c *Catalog) apply(prev, curr map[string]int64, dir string) {
	var added, removed int
	fresh := map[string]indexed{}
	for name, mod := range curr {
		if old, ok := prev[name]; !ok || old != mod {
			fresh[name] = c.index(dir, name, mod)
			added++
		}
	}
	for name := range prev {
		if _, ok := curr[name]; !ok {
			removed++
			slog.Info("track removed", "file", name)
		}
	}

	c.mu.RLock()
	list := make([]indexed, 0, len(curr))
	for _, ix := range c.tracks {
		if _, ok := curr[ix.track.ID]; !ok {
			continue
		}
		if nix, ok := fresh[ix.track.ID]; ok {
			list = append(list, nix)
			delete(fresh, ix.track.ID)
			continue
		}
		// Thumbnails may have appeared or gone.
		ix.track.Thumbnail = thumbnail(dir, ix.track.ID)
		list = append(list, ix)
	}
	c.mu.RUnlock()
	for _, nix := range fresh {
		slog.Info("track added", "file", nix.track.ID)
		list = append(list, nix)
	}
	c.replace(list)
	slog.Info("incremental scan complete", "changed", added, "removed", removed, "total", len(list))
}
