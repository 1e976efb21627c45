package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jota2rz/dualdeck/internal/config"
	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/mixer"
)

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
func millis(ms int) time.Duration     { return time.Duration(ms) * time.Millisecond }

// ── Decks ───────────────────────────────────────────────

// HandleDeckAction runs play (toggle), pause, stop or cue on a deck.
func (h *Handlers) HandleDeckAction(w http.ResponseWriter, r *http.Request) {
	d, err := deckParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var op func(deck.ID)
	switch action := r.PathValue("action"); action {
	case "play":
		op = h.mixer.PlayDeck
	case "pause":
		op = h.mixer.PauseDeck
	case "stop":
		op = h.mixer.StopDeck
	case "cue":
		op = h.mixer.CueDeck
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}
	h.respondView(w, func() { op(d) })
}

// HandleSeek seeks a deck to {"time": seconds} or {"fraction": 0-1}.
func (h *Handlers) HandleSeek(w http.ResponseWriter, r *http.Request) {
	d, err := deckParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Time     *float64 `json:"time"`
		Fraction *float64 `json:"fraction"`
	}
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Time != nil:
		h.respondView(w, func() { h.mixer.Seek(d, *req.Time) })
	case req.Fraction != nil:
		h.respondView(w, func() { h.mixer.SeekFromWaveform(d, *req.Fraction) })
	default:
		http.Error(w, "time or fraction required", http.StatusBadRequest)
	}
}

// HandleLoad loads {"trackId"} onto a deck and places it in the playlist
// after the current entry. With "cue" set the deck is not started.
func (h *Handlers) HandleLoad(w http.ResponseWriter, r *http.Request) {
	d, err := deckParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		TrackID string `json:"trackId"`
		Cue     bool   `json:"cue"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.TrackID == "" {
		http.Error(w, "trackId required", http.StatusBadRequest)
		return
	}
	t, err := h.catalog.Info(req.TrackID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.playlist.Insert(t); err != nil {
		writeError(w, err)
		return
	}
	h.PublishPlaylist()
	h.respondView(w, func() {
		if req.Cue {
			h.mixer.CueVideo(d, t)
		} else {
			h.mixer.LoadVideo(d, t)
		}
	})
}

// HandleDeckVolume sets a deck fader from {"volume": 0-100}.
func (h *Handlers) HandleDeckVolume(w http.ResponseWriter, r *http.Request) {
	d, err := deckParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Volume *int `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Volume == nil {
		http.Error(w, "volume required", http.StatusBadRequest)
		return
	}
	h.respondView(w, func() { h.mixer.SetDeckVolume(d, *req.Volume) })
}

// ── Mixer ───────────────────────────────────────────────

// HandleGetMixer returns the current mixer view.
func (h *Handlers) HandleGetMixer(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, nil)
}

// HandleCrossfader moves the crossfader to {"position": 0-100}.
func (h *Handlers) HandleCrossfader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *int `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Position == nil {
		http.Error(w, "position required", http.StatusBadRequest)
		return
	}
	h.respondView(w, func() { h.mixer.SetCrossfader(*req.Position) })
}

// HandleMasterVolume sets {"volume": 0-100} as master and stores it.
func (h *Handlers) HandleMasterVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Volume == nil {
		http.Error(w, "volume required", http.StatusBadRequest)
		return
	}
	v := deck.ClampLevel(*req.Volume)
	if err := h.setConfig(config.KeyMasterVolume, strconv.Itoa(v)); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	h.respondView(w, func() { h.mixer.SetMasterVolume(v) })
}

// HandleCrossfade starts a crossfade. The body may name "from" and "to";
// by default it goes from the active deck to the other one. A crossfade
// already in progress yields 409.
func (h *Handlers) HandleCrossfade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From deck.ID `json:"from"`
		To   deck.ID `json:"to"`
	}
	if !decode(w, r, &req) {
		return
	}
	var (
		started bool
		view    mixer.View
	)
	err := h.exec(func() {
		from, to := req.From, req.To
		if !from.Valid() {
			from = h.mixer.ActiveDeck()
		}
		if !to.Valid() {
			to = from.Other()
		}
		started = h.mixer.StartCrossfade(from, to)
		view = h.mixer.View()
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		http.Error(w, "crossfade not started", http.StatusConflict)
		return
	}
	writeJSON(w, view)
}

// HandleNextTrack moves on to the next track.
func (h *Handlers) HandleNextTrack(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, h.mixer.NextTrack)
}

// HandleAutoMix toggles auto-mix from {"enabled": bool} and stores it.
func (h *Handlers) HandleAutoMix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.setConfig(config.KeyAutoMix, strconv.FormatBool(req.Enabled)); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	h.respondView(w, func() { h.mixer.SetAutoMix(req.Enabled) })
}

// HandleCrossfadeDuration sets the crossfade length from {"seconds"} and
// stores it.
func (h *Handlers) HandleCrossfadeDuration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Seconds <= 0 {
		http.Error(w, "seconds must be positive", http.StatusBadRequest)
		return
	}
	if err := h.setConfig(config.KeyCrossfadeDuration, strconv.FormatFloat(req.Seconds, 'f', -1, 64)); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	h.respondView(w, func() { h.mixer.SetCrossfadeDuration(seconds(req.Seconds)) })
}

// ── Presentation ────────────────────────────────────────

// HandleOpenPresentation opens the presentation window, or closes it if
// one is connected.
func (h *Handlers) HandleOpenPresentation(w http.ResponseWriter, r *http.Request) {
	var openErr error
	if err := h.exec(func() { openErr = h.mixer.OpenPresentation() }); err != nil {
		writeError(w, err)
		return
	}
	if openErr != nil {
		slog.Warn("open presentation failed", "error", openErr)
		http.Error(w, openErr.Error(), http.StatusBadGateway)
		return
	}
	h.respondView(w, nil)
}

// HandleClosePresentation closes the presentation and resumes locally.
func (h *Handlers) HandleClosePresentation(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, h.mixer.ClosePresentation)
}

// HandlePresentationMessage accepts a sync channel message from a browser
// presentation window.
func (h *Handlers) HandlePresentationMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.link.Deliver(body); err != nil {
		slog.Debug("presentation message rejected", "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondView runs fn (if any) on the mixer goroutine and replies with the
// resulting view.
func (h *Handlers) respondView(w http.ResponseWriter, fn func()) {
	var view mixer.View
	err := h.exec(func() {
		if fn != nil {
			fn()
		}
		view = h.mixer.View()
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view)
}
