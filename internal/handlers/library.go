package handlers

import (
	"net/http"
	"strconv"

	"github.com/jota2rz/dualdeck/internal/config"
	"github.com/jota2rz/dualdeck/internal/playlist"
)

const defaultSearchLimit = 50

// HandleSearchTracks searches the catalog with ?q= and optional ?limit=.
func (h *Handlers) HandleSearchTracks(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, h.catalog.Search(r.URL.Query().Get("q"), limit))
}

// HandleTrackInfo returns one catalog track.
func (h *Handlers) HandleTrackInfo(w http.ResponseWriter, r *http.Request) {
	t, err := h.catalog.Info(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, t)
}

// HandleGetPlaylist returns the entries, current index and mode.
func (h *Handlers) HandleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.playlistState())
}

type trackRequest struct {
	TrackID string `json:"trackId"`
}

// HandleAddToPlaylist appends {"trackId"} to the playlist. The first two
// entries are cued onto the decks.
func (h *Handlers) HandleAddToPlaylist(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.catalog.Info(req.TrackID)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := h.playlist.Add(t)
	if err != nil {
		writeError(w, err)
		return
	}
	n := h.playlist.Len()
	if err := h.exec(func() { h.mixer.Enqueued(n, t) }); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, map[string]int{"position": pos})
}

// HandleInsertIntoPlaylist places {"trackId"} after the current entry.
func (h *Handlers) HandleInsertIntoPlaylist(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.catalog.Info(req.TrackID)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := h.playlist.Insert(t)
	if err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, map[string]int{"position": pos})
}

// HandleRemoveFromPlaylist deletes the entry at {index}.
func (h *Handlers) HandleRemoveFromPlaylist(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	if err := h.playlist.Remove(i); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, nil)
}

// HandleClearPlaylist empties the playlist.
func (h *Handlers) HandleClearPlaylist(w http.ResponseWriter, r *http.Request) {
	if err := h.playlist.Clear(); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, nil)
}

// HandleMovePlaylistEntry shifts the entry at {index} by {"delta"}.
func (h *Handlers) HandleMovePlaylistEntry(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.playlist.Move(i, req.Delta); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, nil)
}

// HandleReorderPlaylist moves entry {"from"} to position {"to"}.
func (h *Handlers) HandleReorderPlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.playlist.Reorder(req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, nil)
}

// HandleSetPlaylistIndex moves the cursor to {"index"} and cues the entry
// after it on the idle deck.
func (h *Handlers) HandleSetPlaylistIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.playlist.SetIndex(req.Index); err != nil {
		writeError(w, err)
		return
	}
	if err := h.exec(h.mixer.PreloadUpcoming); err != nil {
		writeError(w, err)
		return
	}
	h.playlistChanged(w, nil)
}

// HandleSetPlaylistMode switches between "repeat" and "dj".
func (h *Handlers) HandleSetPlaylistMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode playlist.Mode `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.playlist.SetMode(req.Mode); err != nil {
		writeError(w, err)
		return
	}
	if err := h.setConfig(config.KeyPlaylistMode, string(req.Mode)); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	h.playlistChanged(w, nil)
}

// playlistChanged broadcasts the playlist and replies with it, plus extra
// fields when given.
func (h *Handlers) playlistChanged(w http.ResponseWriter, extra map[string]int) {
	h.PublishPlaylist()
	if extra == nil {
		writeJSON(w, h.playlistState())
		return
	}
	writeJSON(w, struct {
		playlistPayload
		Position int `json:"position"`
	}{h.playlistState(), extra["position"]})
}
