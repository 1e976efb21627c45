package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/jota2rz/dualdeck/internal/catalog"
	"github.com/jota2rz/dualdeck/internal/config"
	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/mixer"
	"github.com/jota2rz/dualdeck/internal/models"
	"github.com/jota2rz/dualdeck/internal/pages"
	"github.com/jota2rz/dualdeck/internal/playlist"
	"github.com/jota2rz/dualdeck/internal/sse"
)

// SSE event names.
const (
	EventMixerState    = "mixer-state"
	EventPlaylist      = "playlist"
	EventLibrary       = "library-updated"
	EventConfigUpdated = "config-updated"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config   *config.Config
	Hub      *sse.Hub
	Link     *sse.Transport // browser presentation peers
	WS       http.Handler   // Go presentation peers, may be nil
	Mixer    *mixer.Controller
	Catalog  *catalog.Catalog
	Playlist *playlist.Store
	// Run executes fn on the goroutine that owns the mixer and waits for
	// it. It returns false when that goroutine has stopped.
	Run func(fn func()) bool
	// Shutdown is called by POST /api/shutdown. May be nil.
	Shutdown func()
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg      *config.Config
	hub      *sse.Hub
	link     *sse.Transport
	ws       http.Handler
	mixer    *mixer.Controller
	catalog  *catalog.Catalog
	playlist *playlist.Store
	run      func(func()) bool
	shutdown func()

	// Last published mixer state; ticks that change nothing are not
	// re-broadcast.
	stateMu   sync.Mutex
	lastState []byte
}

// New creates a Handlers instance.
func New(d Deps) *Handlers {
	h := &Handlers{
		cfg:      d.Config,
		hub:      d.Hub,
		link:     d.Link,
		ws:       d.WS,
		mixer:    d.Mixer,
		catalog:  d.Catalog,
		playlist: d.Playlist,
		run:      d.Run,
		shutdown: d.Shutdown,
	}
	h.cfg.OnSet(h.publishSetting)
	return h
}

// Register installs every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	// SSE – dashboard state and browser presentation peers
	mux.HandleFunc("GET /events", h.HandleSSE)
	if h.ws != nil {
		mux.Handle("GET /ws", h.ws)
	}

	// Pages
	mux.HandleFunc("GET /dashboard", h.HandleDashboard)
	mux.HandleFunc("GET /presentation", h.HandlePresentation)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(pages.Static)))
	mux.HandleFunc("GET /", h.HandleIndex)

	// Decks
	mux.HandleFunc("POST /api/deck/{deck}/{action}", h.HandleDeckAction)
	mux.HandleFunc("POST /api/deck/{deck}/seek", h.HandleSeek)
	mux.HandleFunc("POST /api/deck/{deck}/load", h.HandleLoad)
	mux.HandleFunc("POST /api/deck/{deck}/volume", h.HandleDeckVolume)

	// Mixer
	mux.HandleFunc("GET /api/mixer", h.HandleGetMixer)
	mux.HandleFunc("POST /api/mixer/crossfader", h.HandleCrossfader)
	mux.HandleFunc("POST /api/mixer/master", h.HandleMasterVolume)
	mux.HandleFunc("POST /api/mixer/crossfade", h.HandleCrossfade)
	mux.HandleFunc("POST /api/mixer/next", h.HandleNextTrack)
	mux.HandleFunc("POST /api/mixer/automix", h.HandleAutoMix)
	mux.HandleFunc("POST /api/mixer/duration", h.HandleCrossfadeDuration)

	// Presentation
	mux.HandleFunc("POST /api/presentation/open", h.HandleOpenPresentation)
	mux.HandleFunc("POST /api/presentation/close", h.HandleClosePresentation)
	mux.HandleFunc("POST /api/presentation/message", h.HandlePresentationMessage)

	// Library and playlist
	mux.HandleFunc("GET /api/tracks", h.HandleSearchTracks)
	mux.HandleFunc("GET /api/tracks/{id}", h.HandleTrackInfo)
	mux.HandleFunc("GET /api/playlist", h.HandleGetPlaylist)
	mux.HandleFunc("POST /api/playlist", h.HandleAddToPlaylist)
	mux.HandleFunc("DELETE /api/playlist", h.HandleClearPlaylist)
	mux.HandleFunc("POST /api/playlist/insert", h.HandleInsertIntoPlaylist)
	mux.HandleFunc("POST /api/playlist/reorder", h.HandleReorderPlaylist)
	mux.HandleFunc("POST /api/playlist/index", h.HandleSetPlaylistIndex)
	mux.HandleFunc("POST /api/playlist/mode", h.HandleSetPlaylistMode)
	mux.HandleFunc("DELETE /api/playlist/{index}", h.HandleRemoveFromPlaylist)
	mux.HandleFunc("POST /api/playlist/{index}/move", h.HandleMovePlaylistEntry)

	// Settings
	mux.HandleFunc("GET /api/config", h.HandleGetConfig)
	mux.HandleFunc("POST /api/config", h.HandleSetConfig)
	mux.HandleFunc("POST /api/shutdown", h.HandleShutdown)
}

// ── Broadcasts ──────────────────────────────────────────

// PublishState broadcasts a mixer view to dashboards. Identical
// consecutive views are skipped.
func (h *Handlers) PublishState(v mixer.View) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode mixer state", "error", err)
		return
	}
	h.stateMu.Lock()
	same := bytes.Equal(data, h.lastState)
	h.lastState = data
	h.stateMu.Unlock()
	if !same {
		h.hub.Publish(EventMixerState, EventMixerState, data)
	}
}

type playlistPayload struct {
	Entries []models.PlaylistEntry `json:"entries"`
	Index   int                    `json:"index"`
	Mode    playlist.Mode          `json:"mode"`
}

func (h *Handlers) playlistState() playlistPayload {
	return playlistPayload{
		Entries: h.playlist.Entries(),
		Index:   h.playlist.Index(),
		Mode:    h.playlist.Mode(),
	}
}

// PublishPlaylist broadcasts the playlist to dashboards.
func (h *Handlers) PublishPlaylist() {
	data, _ := json.Marshal(h.playlistState())
	h.hub.Publish(EventPlaylist, EventPlaylist, data)
}

// PublishLibrary tells dashboards the catalog changed.
func (h *Handlers) PublishLibrary() {
	data, _ := json.Marshal(map[string]int{"count": h.catalog.Len()})
	h.hub.Broadcast(EventLibrary, data)
	slog.Info("library updated broadcast", "count", h.catalog.Len())
}

// ── SSE ─────────────────────────────────────────────────

// HandleSSE streams server-sent events to browser clients.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &sse.Client{
		ID:     uuid.NewString(),
		Events: make(chan []byte, 256),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	// Send initial keepalive
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// Replay cached states so new clients get synced immediately
	for _, msg := range h.hub.Replay() {
		w.Write(msg)
	}
	flusher.Flush()

	for {
		select {
		case msg, ok := <-client.Events:
			if !ok {
				return
			}
			w.Write(msg)
			// Drain any queued messages before flushing so multiple
			// events batch into a single TCP write.
		drain:
			for {
				select {
				case extra, ok := <-client.Events:
					if !ok {
						flusher.Flush()
						return
					}
					w.Write(extra)
				default:
					break drain
				}
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ── Pages ───────────────────────────────────────────────

// HandleIndex redirects to the dashboard.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// HandleDashboard renders the console page.
// If X-SPA header is set, only the <main> partial is returned.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Header.Get("X-SPA") != "" {
		pages.DashboardContent().Render(r.Context(), w)
	} else {
		pages.Dashboard().Render(r.Context(), w)
	}
}

// HandlePresentation renders the presentation page.
func (h *Handlers) HandlePresentation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	pages.Presentation().Render(r.Context(), w)
}

// ── Settings ────────────────────────────────────────────

// HandleGetConfig returns all config as JSON.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.cfg.All())
}

// HandleSetConfig saves a config key-value pair and applies it to the
// running console.
func (h *Handlers) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var entry models.ConfigEntry
	if !decode(w, r, &entry) {
		return
	}
	if entry.Key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}
	if err := h.applySetting(entry.Key, entry.Value); err != nil {
		writeError(w, err)
		return
	}
	if err := h.setConfig(entry.Key, entry.Value); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setConfig persists a setting; publishSetting broadcasts it.
func (h *Handlers) setConfig(key, value string) error {
	if err := h.cfg.Set(key, value); err != nil {
		slog.Error("config write failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (h *Handlers) publishSetting(key, value string) {
	data, _ := json.Marshal(models.ConfigEntry{Key: key, Value: value})
	h.hub.Publish("config:"+key, EventConfigUpdated, data)
}

// errInvalidSetting is returned for values a known key cannot take.
var errInvalidSetting = errors.New("invalid setting value")

func (h *Handlers) applySetting(key, value string) error {
	invalid := func() error { return fmt.Errorf("%w: %s=%q", errInvalidSetting, key, value) }
	switch key {
	case config.KeyCrossfadeDuration:
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs <= 0 {
			return invalid()
		}
		h.run(func() { h.mixer.SetCrossfadeDuration(seconds(secs)) })
	case config.KeyAutoMix:
		on, err := strconv.ParseBool(value)
		if err != nil {
			return invalid()
		}
		h.run(func() { h.mixer.SetAutoMix(on) })
	case config.KeyMasterVolume:
		v, err := strconv.Atoi(value)
		if err != nil {
			return invalid()
		}
		h.run(func() { h.mixer.SetMasterVolume(v) })
	case config.KeyTelemetryMaxAge:
		ms, err := strconv.Atoi(value)
		if err != nil {
			return invalid()
		}
		h.run(func() { h.mixer.SetTelemetryMaxAge(millis(ms)) })
	case config.KeyPlaylistMode:
		if err := h.playlist.SetMode(playlist.Mode(value)); err != nil {
			return err
		}
		h.PublishPlaylist()
	case config.KeyVideosDir:
		if value == "" {
			return invalid()
		}
		h.catalog.SetDir(value)
		go func() {
			if err := h.catalog.Scan(); err != nil {
				slog.Warn("rescan after videos_dir change failed", "error", err)
				return
			}
			h.PublishLibrary()
		}()
	}
	return nil
}

// HandleShutdown stops the server.
func (h *Handlers) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "shutting down"})
	if h.shutdown != nil {
		go h.shutdown()
	}
}

// ── Helpers ─────────────────────────────────────────────

const maxBody = 4096

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, playlist.ErrIndexOutOfRange),
		errors.Is(err, playlist.ErrInvalidMode),
		errors.Is(err, deck.ErrUnknownDeck),
		errors.Is(err, link.ErrInvalidMessage),
		errors.Is(err, errInvalidSetting):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, link.ErrClosed), errors.Is(err, errStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// errStopped is returned when the mixer loop is no longer running.
var errStopped = errors.New("console is shutting down")

// exec runs fn on the mixer goroutine.
func (h *Handlers) exec(fn func()) error {
	if !h.run(fn) {
		return errStopped
	}
	return nil
}

func deckParam(r *http.Request) (deck.ID, error) {
	return deck.Parse(r.PathValue("deck"))
}
