package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/dualdeck/internal/catalog"
	"github.com/jota2rz/dualdeck/internal/config"
	"github.com/jota2rz/dualdeck/internal/db"
	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/engine"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/mixer"
	"github.com/jota2rz/dualdeck/internal/playlist"
	"github.com/jota2rz/dualdeck/internal/schedule"
	"github.com/jota2rz/dualdeck/internal/sse"
)

type fakeWindow struct {
	opened int
	err    error
}

func (w *fakeWindow) Open() error  { w.opened++; return w.err }
func (w *fakeWindow) Close() error { return nil }

type server struct {
	t     *testing.T
	sched *schedule.Manual
	cfg   *config.Config
	ctrl  *mixer.Controller
	pl    *playlist.Store
	sims  [2]*engine.Sim
	win   *fakeWindow
	h     *Handlers
	mux   *http.ServeMux
	stop  chan struct{}
}

func newServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	for _, n := range []string{"Intro.mp4", "Outro.mp4", "Daft Punk - Around the World.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	cat := catalog.New(dir, nil, false)
	require.NoError(t, cat.Scan())
	pl, err := playlist.Open(d, cat)
	require.NoError(t, err)

	hub := sse.NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)
	browserLink := sse.NewTransport(hub)
	ep := link.NewEndpoint(browserLink)

	s := &server{
		t:     t,
		sched: schedule.NewManual(),
		cfg:   config.New(d),
		pl:    pl,
		win:   &fakeWindow{},
		stop:  make(chan struct{}),
	}
	for _, id := range deck.Both {
		s.sims[id.Index()] = engine.NewSim(id.String(), s.sched, cat.Duration,
			func(st deck.EngineState) { s.ctrl.HandleEngineState(id, st) },
			func() { s.ctrl.HandleEngineReady(id) })
	}
	s.ctrl = mixer.New(s.sched,
		deck.NewPlayer(deck.A, s.sims[0]),
		deck.NewPlayer(deck.B, s.sims[1]),
		ep, pl, s.win, s.cfg.MixerSettings())
	ep.Subscribe(s.ctrl.HandleMessage)

	s.h = New(Deps{
		Config:   s.cfg,
		Hub:      hub,
		Link:     browserLink,
		Mixer:    s.ctrl,
		Catalog:  cat,
		Playlist: pl,
		Run:      func(fn func()) bool { fn(); return true },
		Shutdown: func() { close(s.stop) },
	})
	s.ctrl.OnChange(s.h.PublishState)
	s.mux = http.NewServeMux()
	s.h.Register(s.mux)

	for _, sim := range s.sims {
		sim.Init()
	}
	s.sched.Advance(0)
	return s
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *server) view(rec *httptest.ResponseRecorder) mixer.View {
	s.t.Helper()
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var v mixer.View
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type playlistResponse struct {
	Entries []struct {
		Position int    `json:"position"`
		ID       string `json:"id"`
	} `json:"entries"`
	Index    int    `json:"index"`
	Mode     string `json:"mode"`
	Position int    `json:"position"`
}

func (s *server) playlist(rec *httptest.ResponseRecorder) playlistResponse {
	s.t.Helper()
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var p playlistResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestIndexRedirects(t *testing.T) {
	s := newServer(t)
	rec := s.do("GET", "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/nope", "").Code)
}

func TestPagesRender(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/dashboard", "/presentation"} {
		rec := s.do("GET", path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.NotEmpty(t, rec.Body.String())
	}

	body := s.do("GET", "/dashboard", "").Body.String()
	assert.Contains(t, body, `<section id="deck-A">`)
	assert.Contains(t, body, `<button data-deck="B" data-action="cue">Cue</button>`)
	assert.Contains(t, body, `<script src="/static/console.js"></script>`)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	req.Header.Set("X-SPA", "1")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<main>"), "partial has no document shell")

	for _, asset := range []string{"/static/console.js", "/static/presentation.js", "/static/style.css"} {
		rec := s.do("GET", asset, "")
		assert.Equal(t, http.StatusOK, rec.Code, asset)
		assert.NotEmpty(t, rec.Body.String(), asset)
	}
	js := s.do("GET", "/static/presentation.js", "").Body.String()
	assert.Contains(t, js, "st.track[d]===id", "reloading the same track only seeks")
}

func TestLoadAndTransport(t *testing.T) {
	s := newServer(t)
	v := s.view(s.do("POST", "/api/deck/A/load", `{"trackId":"Intro.mp4"}`))
	assert.Equal(t, "Intro.mp4", v.DeckA.TrackID)
	assert.True(t, v.DeckA.Playing)
	assert.Equal(t, []string{"Intro.mp4"}, entryIDs(s.pl))

	v = s.view(s.do("POST", "/api/deck/a/play", ""))
	assert.False(t, v.DeckA.Playing, "play toggles a playing deck")
	v = s.view(s.do("POST", "/api/deck/A/play", ""))
	assert.True(t, v.DeckA.Playing)

	v = s.view(s.do("POST", "/api/deck/A/seek", `{"time":12}`))
	assert.Equal(t, 12.0, v.DeckA.CurrentTime)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/deck/A/seek", `{}`).Code)

	v = s.view(s.do("POST", "/api/deck/A/stop", ""))
	assert.Equal(t, deck.StatusStopped, v.DeckA.Status)
	assert.Zero(t, v.DeckA.CurrentTime)

	v = s.view(s.do("POST", "/api/deck/B/load", `{"trackId":"Outro.mp4","cue":true}`))
	assert.Equal(t, deck.StatusCued, v.DeckB.Status)
	assert.False(t, v.DeckB.Playing)

	v = s.view(s.do("POST", "/api/deck/B/volume", `{"volume":40}`))
	assert.Equal(t, 40, v.DeckB.Volume)
}

func TestDeckErrors(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name, path, body string
		want             int
	}{
		{"unknown deck", "/api/deck/C/play", "", http.StatusBadRequest},
		{"unknown action", "/api/deck/A/dance", "", http.StatusNotFound},
		{"missing track id", "/api/deck/A/load", `{}`, http.StatusBadRequest},
		{"unknown track", "/api/deck/A/load", `{"trackId":"missing.mp4"}`, http.StatusNotFound},
		{"bad json", "/api/deck/A/load", `{`, http.StatusBadRequest},
		{"missing volume", "/api/deck/A/volume", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do("POST", tt.path, tt.body).Code)
		})
	}
}

func TestMixerControls(t *testing.T) {
	s := newServer(t)
	v := s.view(s.do("GET", "/api/mixer", ""))
	assert.Equal(t, 50, v.Crossfader)
	assert.Equal(t, deck.A, v.ActiveDeck)

	v = s.view(s.do("POST", "/api/mixer/crossfader", `{"position":0}`))
	assert.Zero(t, v.Crossfader)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/mixer/crossfader", `{}`).Code)

	v = s.view(s.do("POST", "/api/mixer/master", `{"volume":150}`))
	assert.Equal(t, 100, v.MasterVolume)
	assert.Equal(t, "100", s.cfg.Get(config.KeyMasterVolume, ""))

	v = s.view(s.do("POST", "/api/mixer/automix", `{"enabled":false}`))
	assert.False(t, v.AutoMix)
	assert.Equal(t, "false", s.cfg.Get(config.KeyAutoMix, ""))

	v = s.view(s.do("POST", "/api/mixer/duration", `{"seconds":8}`))
	assert.Equal(t, 8.0, v.CrossfadeDuration)
	assert.Equal(t, "8", s.cfg.Get(config.KeyCrossfadeDuration, ""))
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/mixer/duration", `{"seconds":0}`).Code)
}

func TestCrossfadeEndpoint(t *testing.T) {
	s := newServer(t)
	s.do("POST", "/api/deck/A/load", `{"trackId":"Intro.mp4"}`)
	s.do("POST", "/api/deck/B/load", `{"trackId":"Outro.mp4","cue":true}`)
	s.do("POST", "/api/mixer/crossfader", `{"position":0}`)

	v := s.view(s.do("POST", "/api/mixer/crossfade", ""))
	assert.True(t, v.Crossfading)
	assert.True(t, v.DeckB.Playing)
	assert.Equal(t, http.StatusConflict, s.do("POST", "/api/mixer/crossfade", `{"from":"B","to":"A"}`).Code)

	s.sched.Advance(6 * time.Second)
	v = s.view(s.do("GET", "/api/mixer", ""))
	assert.False(t, v.Crossfading)
	assert.Equal(t, 100, v.Crossfader)
	assert.Equal(t, deck.B, v.ActiveDeck)
}

func TestPresentationEndpoints(t *testing.T) {
	s := newServer(t)
	s.view(s.do("POST", "/api/presentation/open", ""))
	assert.Equal(t, 1, s.win.opened)

	rec := s.do("POST", "/api/presentation/message", `{"type":"ready"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	v := s.view(s.do("GET", "/api/mixer", ""))
	assert.True(t, v.Connected)

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/presentation/message", `{"type":"dance"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/presentation/message", `{"type":"play"}`).Code)

	v = s.view(s.do("POST", "/api/presentation/close", ""))
	assert.False(t, v.Connected)

	s.win.err = assert.AnError
	assert.Equal(t, http.StatusBadGateway, s.do("POST", "/api/presentation/open", "").Code)
}

func TestTracks(t *testing.T) {
	s := newServer(t)
	rec := s.do("GET", "/api/tracks?q=daft", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tracks []struct {
		ID     string `json:"id"`
		Artist string `json:"artist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	require.NotEmpty(t, tracks)
	assert.Equal(t, "Daft Punk", tracks[0].Artist)

	rec = s.do("GET", "/api/tracks?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	assert.Len(t, tracks, 1)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/tracks?limit=x", "").Code)

	assert.Equal(t, http.StatusOK, s.do("GET", "/api/tracks/Intro.mp4", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/tracks/missing.mp4", "").Code)
}

func TestPlaylistEndpoints(t *testing.T) {
	s := newServer(t)
	p := s.playlist(s.do("POST", "/api/playlist", `{"trackId":"Intro.mp4"}`))
	assert.Zero(t, p.Position)
	v := s.view(s.do("GET", "/api/mixer", ""))
	assert.Equal(t, "Intro.mp4", v.DeckA.TrackID, "the first entry is cued on A")
	assert.Equal(t, deck.StatusCued, v.DeckA.Status)

	p = s.playlist(s.do("POST", "/api/playlist", `{"trackId":"Outro.mp4"}`))
	assert.Equal(t, 1, p.Position)
	v = s.view(s.do("GET", "/api/mixer", ""))
	assert.Equal(t, "Outro.mp4", v.DeckB.TrackID, "the second entry is cued on B")

	p = s.playlist(s.do("POST", "/api/playlist/insert", `{"trackId":"Daft Punk - Around the World.mp4"}`))
	assert.Equal(t, 1, p.Position)
	assert.Equal(t, []string{"Intro.mp4", "Daft Punk - Around the World.mp4", "Outro.mp4"}, entryIDs(s.pl))

	s.playlist(s.do("POST", "/api/playlist/reorder", `{"from":2,"to":0}`))
	assert.Equal(t, []string{"Outro.mp4", "Intro.mp4", "Daft Punk - Around the World.mp4"}, entryIDs(s.pl))
	s.playlist(s.do("POST", "/api/playlist/0/move", `{"delta":1}`))
	assert.Equal(t, []string{"Intro.mp4", "Outro.mp4", "Daft Punk - Around the World.mp4"}, entryIDs(s.pl))

	p = s.playlist(s.do("POST", "/api/playlist/index", `{"index":2}`))
	assert.Equal(t, 2, p.Index)

	p = s.playlist(s.do("POST", "/api/playlist/mode", `{"mode":"dj"}`))
	assert.Equal(t, "dj", p.Mode)
	assert.Equal(t, "dj", s.cfg.Get(config.KeyPlaylistMode, ""))

	p = s.playlist(s.do("DELETE", "/api/playlist/2", ""))
	assert.Len(t, p.Entries, 2)
	assert.Zero(t, p.Index, "cursor past the end resets")

	p = s.playlist(s.do("GET", "/api/playlist", ""))
	assert.Len(t, p.Entries, 2)

	p = s.playlist(s.do("DELETE", "/api/playlist", ""))
	assert.Empty(t, p.Entries)
}

func TestPlaylistErrors(t *testing.T) {
	s := newServer(t)
	s.do("POST", "/api/playlist", `{"trackId":"Intro.mp4"}`)
	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"unknown track", "POST", "/api/playlist", `{"trackId":"missing.mp4"}`, http.StatusNotFound},
		{"index not a number", "DELETE", "/api/playlist/x", "", http.StatusBadRequest},
		{"index out of range", "DELETE", "/api/playlist/5", "", http.StatusBadRequest},
		{"move out of range", "POST", "/api/playlist/0/move", `{"delta":-1}`, http.StatusBadRequest},
		{"reorder out of range", "POST", "/api/playlist/reorder", `{"from":0,"to":3}`, http.StatusBadRequest},
		{"cursor out of range", "POST", "/api/playlist/index", `{"index":3}`, http.StatusBadRequest},
		{"unknown mode", "POST", "/api/playlist/mode", `{"mode":"shuffle"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(tt.method, tt.path, tt.body).Code)
		})
	}
}

func TestConfigEndpoints(t *testing.T) {
	s := newServer(t)
	rec := s.do("GET", "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, "5", all[config.KeyCrossfadeDuration])

	rec = s.do("POST", "/api/config", `{"key":"crossfade_duration","value":"12"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 12.0, s.ctrl.View().CrossfadeDuration)
	assert.Equal(t, "12", s.cfg.Get(config.KeyCrossfadeDuration, ""))

	rec = s.do("POST", "/api/config", `{"key":"telemetry_max_age_ms","value":"900"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	tests := []struct{ name, body string }{
		{"missing key", `{"value":"1"}`},
		{"bad duration", `{"key":"crossfade_duration","value":"soon"}`},
		{"bad automix", `{"key":"auto_mix","value":"maybe"}`},
		{"bad mode", `{"key":"playlist_mode","value":"shuffle"}`},
		{"empty videos dir", `{"key":"videos_dir","value":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/config", tt.body).Code)
		})
	}
	assert.Equal(t, "12", s.cfg.Get(config.KeyCrossfadeDuration, ""), "rejected values are not stored")
}

func TestShutdown(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do("POST", "/api/shutdown", "").Code)
	select {
	case <-s.stop:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not called")
	}
}

func TestStoppedConsole(t *testing.T) {
	s := newServer(t)
	s.h.run = func(func()) bool { return false }
	assert.Equal(t, http.StatusServiceUnavailable, s.do("GET", "/api/mixer", "").Code)
}

func TestEventsReplayState(t *testing.T) {
	s := newServer(t)
	s.h.PublishState(s.ctrl.View())
	ts := httptest.NewServer(s.mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	found := false
	for sc.Scan() {
		if sc.Text() == "event: "+EventMixerState {
			found = true
			break
		}
	}
	assert.True(t, found, "cached mixer state is replayed")
}

func entryIDs(pl *playlist.Store) []string {
	var out []string
	for _, e := range pl.Entries() {
		out = append(out, e.ID)
	}
	return out
}
