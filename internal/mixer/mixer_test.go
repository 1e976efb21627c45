package mixer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/engine"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/models"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

// ── Fakes ───────────────────────────────────────────────

type sentLog struct {
	msgs []link.Message
}

func (s *sentLog) Send(m link.Message) error {
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *sentLog) reset() { s.msgs = nil }

func (s *sentLog) of(kind link.Kind) []link.Message {
	var out []link.Message
	for _, m := range s.msgs {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakePlaylist struct {
	next    []models.Track
	focused []string
}

func (p *fakePlaylist) Upcoming() (models.Track, bool) {
	if len(p.next) == 0 {
		return models.Track{}, false
	}
	t := p.next[0]
	p.next = p.next[1:]
	return t, true
}

func (p *fakePlaylist) Focus(id string) { p.focused = append(p.focused, id) }

type fakeWindow struct {
	opened, closed int
	err            error
}

func (w *fakeWindow) Open() error  { w.opened++; return w.err }
func (w *fakeWindow) Close() error { w.closed++; return nil }

type harness struct {
	sched *schedule.Manual
	sims  [2]*engine.Sim
	ctrl  *Controller
	out   *sentLog
	pl    *fakePlaylist
	win   *fakeWindow
}

func track(id string, dur float64) models.Track {
	return models.Track{ID: id, Title: id, Duration: dur}
}

var lengths = map[string]float64{"a": 200, "b": 180, "c": 240}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	h := &harness{
		sched: schedule.NewManual(),
		out:   &sentLog{},
		pl:    &fakePlaylist{},
		win:   &fakeWindow{},
	}
	for _, d := range deck.Both {
		h.sims[d.Index()] = engine.NewSim("test-"+d.String(), h.sched,
			func(id string) float64 { return lengths[id] },
			func(st deck.EngineState) { h.ctrl.HandleEngineState(d, st) },
			func() { h.ctrl.HandleEngineReady(d) })
	}
	h.ctrl = New(h.sched,
		deck.NewPlayer(deck.A, h.sims[0]),
		deck.NewPlayer(deck.B, h.sims[1]),
		h.out, h.pl, h.win, s)
	for _, sim := range h.sims {
		sim.Init()
	}
	h.flush()
	return h
}

// flush delivers pending zero-delay callbacks without moving time.
func (h *harness) flush() { h.sched.Advance(0) }

func (h *harness) sim(d deck.ID) *engine.Sim { return h.sims[d.Index()] }

func (h *harness) connect() {
	h.ctrl.HandleMessage(link.Ready())
	h.flush()
}

// ── Volume ──────────────────────────────────────────────

func TestEffectiveVolume(t *testing.T) {
	tests := []struct {
		name                     string
		volume, master, position int
		wantA, wantB             int
	}{
		{"center", 100, 80, 50, 40, 40},
		{"full A", 100, 80, 0, 80, 0},
		{"full B", 100, 80, 100, 0, 80},
		{"fader", 50, 100, 25, 38, 13},
		{"muted master", 100, 0, 50, 0, 0},
		{"clamped inputs", 150, 120, -10, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantA, EffectiveVolume(deck.A, tt.volume, tt.master, tt.position))
			assert.Equal(t, tt.wantB, EffectiveVolume(deck.B, tt.volume, tt.master, tt.position))
		})
	}
}

func TestEffectiveVolumeMonotonic(t *testing.T) {
	prevA, prevB := 101, -1
	for p := 0; p <= 100; p++ {
		a := EffectiveVolume(deck.A, 100, 100, p)
		b := EffectiveVolume(deck.B, 100, 100, p)
		assert.LessOrEqual(t, a, prevA, "A at %d", p)
		assert.GreaterOrEqual(t, b, prevB, "B at %d", p)
		assert.InDelta(t, 100, a+b, 1, "sum at %d", p)
		prevA, prevB = a, b
	}
	assert.Equal(t, 1.0, Opacity(deck.A, 0))
	assert.Equal(t, 0.25, Opacity(deck.B, 25))
}

func TestVolumesAppliedLocally(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.SetCrossfader(30)
	assert.Equal(t, 56, h.sim(deck.A).Volume())
	assert.Equal(t, 24, h.sim(deck.B).Volume())

	h.ctrl.SetDeckVolume(deck.A, 50)
	assert.Equal(t, 28, h.sim(deck.A).Volume())
	h.ctrl.SetMasterVolume(100)
	assert.Equal(t, 35, h.sim(deck.A).Volume())
	assert.Equal(t, 30, h.sim(deck.B).Volume())
	assert.Empty(t, h.out.msgs, "nothing is sent without a presentation")

	v := h.ctrl.View()
	assert.Equal(t, 35, v.EffectiveA)
	assert.Equal(t, 50, v.DeckA.Volume)
}

// ── Deck operations ─────────────────────────────────────

func TestLoadPlayPause(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.B, track("b", 180))
	h.flush()

	s := h.ctrl.View().DeckB
	assert.Equal(t, "b", s.TrackID)
	assert.True(t, s.Playing)
	assert.Equal(t, deck.StatusPlaying, s.Status)
	assert.Equal(t, deck.B, h.ctrl.ActiveDeck())
	assert.Equal(t, []string{"b"}, h.pl.focused)

	h.ctrl.PlayDeck(deck.B) // toggles to pause
	h.flush()
	assert.False(t, h.ctrl.View().DeckB.Playing)
	assert.Equal(t, deck.Paused, h.sim(deck.B).State())

	h.ctrl.PlayDeck(deck.B)
	h.flush()
	assert.True(t, h.ctrl.View().DeckB.Playing)

	h.ctrl.PlayDeck(deck.A)
	assert.False(t, h.ctrl.View().DeckA.Playing, "empty deck does not play")
}

func TestStopCueSeek(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.flush()

	h.ctrl.Seek(deck.A, 60)
	assert.Equal(t, 60.0, h.sim(deck.A).CurrentTime())
	assert.Equal(t, 60.0, h.ctrl.View().DeckA.CurrentTime)

	h.ctrl.SeekFromWaveform(deck.A, 0.25)
	assert.Equal(t, 50.0, h.sim(deck.A).CurrentTime())
	h.ctrl.SeekFromWaveform(deck.A, 3)
	assert.Equal(t, 200.0, h.sim(deck.A).CurrentTime())

	h.ctrl.StopDeck(deck.A)
	h.flush()
	s := h.ctrl.View().DeckA
	assert.False(t, s.Playing)
	assert.Zero(t, s.CurrentTime)
	assert.Equal(t, deck.StatusStopped, s.Status, "CUED from the engine keeps the stopped status")

	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.Seek(deck.A, 30)
	h.ctrl.CueDeck(deck.A)
	h.flush()
	assert.Zero(t, h.sim(deck.A).CurrentTime())
	assert.Equal(t, deck.Paused, h.sim(deck.A).State())
	assert.Equal(t, deck.StatusCued, h.ctrl.View().DeckA.Status)
}

func TestReloadSameTrackResumes(t *testing.T) {
	h := newHarness(t, Settings{CrossfadeDuration: time.Second, AutoMix: false, MasterVolume: 80})
	drive := engine.Drive(h.sched, engine.Tick, h.sims[0], h.sims[1])
	defer drive.Cancel()

	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.PauseDeck(deck.A)
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.sched.Advance(time.Second)

	s := h.ctrl.View().DeckA
	assert.True(t, s.Playing)
	assert.Equal(t, deck.StatusPlaying, s.Status)
	assert.Equal(t, deck.Playing, h.sim(deck.A).State())
	assert.InDelta(t, 1, h.sim(deck.A).CurrentTime(), 0.2)

	h.ctrl.Seek(deck.A, 199.5)
	h.sched.Advance(time.Second)
	require.Equal(t, deck.StatusEnded, h.ctrl.View().DeckA.Status)

	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.sched.Advance(time.Second)
	s = h.ctrl.View().DeckA
	assert.True(t, s.Playing)
	assert.Equal(t, deck.StatusPlaying, s.Status)
	assert.InDelta(t, 1, h.sim(deck.A).CurrentTime(), 0.2, "restarts from the top")
}

func TestSeekFromWaveformUnknownDuration(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("unknown", 0))
	h.ctrl.Seek(deck.A, 10)
	h.ctrl.SeekFromWaveform(deck.A, 0.5)
	assert.Equal(t, 10.0, h.sim(deck.A).CurrentTime())
}

func TestInvalidDeckIgnored(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	assert.NotPanics(t, func() {
		h.ctrl.LoadVideo(0, track("a", 1))
		h.ctrl.PlayDeck(3)
		h.ctrl.SetDeckVolume(0, 10)
		h.ctrl.Seek(0, 1)
	})
}

// ── Crossfade ───────────────────────────────────────────

func TestCrossfadeAtoB(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.ctrl.SetCrossfader(0)
	h.pl.next = []models.Track{track("c", 240)}
	h.flush()

	require.True(t, h.ctrl.StartCrossfade(deck.A, deck.B))
	assert.True(t, h.ctrl.Crossfading())
	assert.Equal(t, deck.Playing, h.sim(deck.B).State(), "target starts with the fade")

	h.sched.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, h.ctrl.View().Crossfader)
	h.sched.Advance(2400 * time.Millisecond)
	assert.Equal(t, 50, h.ctrl.View().Crossfader)

	assert.False(t, h.ctrl.StartCrossfade(deck.A, deck.B), "second start is rejected")
	assert.Equal(t, 50, h.ctrl.View().Crossfader)

	h.sched.Advance(2500 * time.Millisecond)
	v := h.ctrl.View()
	assert.Equal(t, 100, v.Crossfader)
	assert.False(t, v.Crossfading)
	assert.Equal(t, deck.B, v.ActiveDeck)
	assert.False(t, v.DeckA.Playing)
	assert.Equal(t, "c", v.DeckA.TrackID, "the freed deck gets the upcoming entry")
	assert.Equal(t, deck.StatusCued, v.DeckA.Status)
	assert.Zero(t, h.sched.Pending(), "no step timer left behind")

	h.sched.Advance(time.Second)
	assert.Equal(t, 100, h.ctrl.View().Crossfader)
}

func TestCrossfadeBtoA(t *testing.T) {
	h := newHarness(t, Settings{CrossfadeDuration: 2 * time.Second, AutoMix: true, MasterVolume: 80})
	h.ctrl.CueVideo(deck.A, track("a", 200))
	h.ctrl.LoadVideo(deck.B, track("b", 180))
	h.ctrl.SetCrossfader(100)
	h.flush()

	var positions []int
	last := h.ctrl.View().Crossfader
	h.ctrl.OnChange(func(v View) {
		if v.Crossfader != last {
			positions = append(positions, v.Crossfader)
			last = v.Crossfader
		}
	})
	require.True(t, h.ctrl.StartCrossfade(deck.B, deck.A))
	h.sched.Advance(2 * time.Second)

	assert.Equal(t, 0, h.ctrl.View().Crossfader)
	assert.Equal(t, deck.A, h.ctrl.ActiveDeck())
	assert.False(t, h.ctrl.Crossfading())
	require.Len(t, positions, CrossfadeSteps, "one update per step")
	for i, p := range positions {
		assert.Equal(t, 100-2*(i+1), p)
	}
}

func TestCrossfadeRejectsSameDeck(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	assert.False(t, h.ctrl.StartCrossfade(deck.A, deck.A))
	assert.False(t, h.ctrl.StartCrossfade(0, deck.B))
	assert.False(t, h.ctrl.Crossfading())
}

func TestStopCancelsCrossfade(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.ctrl.Start()
	require.True(t, h.ctrl.StartCrossfade(deck.A, deck.B))
	h.sched.Advance(time.Second)

	h.ctrl.Stop()
	assert.False(t, h.ctrl.Crossfading())
	pos := h.ctrl.View().Crossfader
	h.sched.Advance(10 * time.Second)
	assert.Equal(t, pos, h.ctrl.View().Crossfader)
	assert.True(t, h.ctrl.StartCrossfade(deck.B, deck.A), "a stopped fade does not leave the flag stuck")
}

func TestCrossfadeDurationClamp(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.SetCrossfadeDuration(100 * time.Millisecond)
	assert.Equal(t, 1.0, h.ctrl.View().CrossfadeDuration)
	h.ctrl.SetCrossfadeDuration(time.Minute)
	assert.Equal(t, 30.0, h.ctrl.View().CrossfadeDuration)
}

func TestNextTrackLoadsEmptyDeckFirst(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.pl.next = []models.Track{track("b", 180)}
	h.flush()

	h.ctrl.NextTrack()
	assert.Equal(t, "b", h.ctrl.View().DeckB.TrackID)
	assert.False(t, h.ctrl.Crossfading())

	h.sched.Advance(NextTrackWait)
	assert.True(t, h.ctrl.Crossfading())
	h.sched.Advance(5 * time.Second)
	assert.Equal(t, deck.B, h.ctrl.ActiveDeck())
	assert.Equal(t, 100, h.ctrl.View().Crossfader)
}

func TestNextTrackEmptyPlaylist(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.NextTrack()
	h.sched.Advance(time.Second)
	assert.False(t, h.ctrl.Crossfading())
	assert.Equal(t, deck.A, h.ctrl.ActiveDeck())
}

// ── Auto-transition ─────────────────────────────────────

func TestAutoTransitionCuesThenCrossfades(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.pl.next = []models.Track{track("b", 180)}
	h.flush()
	h.ctrl.Seek(deck.A, 196)
	h.ctrl.Start()

	h.sched.Advance(TickInterval)
	v := h.ctrl.View()
	assert.Equal(t, "b", v.DeckB.TrackID, "first tick cues the next track")
	assert.False(t, v.DeckB.Playing)
	assert.False(t, v.Crossfading)

	h.sched.Advance(TickInterval)
	assert.True(t, h.ctrl.Crossfading(), "next tick starts the crossfade")
}

func TestAutoTransitionWaitsForWindow(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.flush()
	h.ctrl.Seek(deck.A, 190)
	h.ctrl.Tick()
	assert.False(t, h.ctrl.Crossfading())

	h.ctrl.SetAutoMix(false)
	h.ctrl.Seek(deck.A, 198)
	h.ctrl.Tick()
	assert.False(t, h.ctrl.Crossfading(), "auto-mix off")

	h.ctrl.SetAutoMix(true)
	h.ctrl.Tick()
	assert.True(t, h.ctrl.Crossfading())
}

func TestUnknownDurationFallsBackToEnded(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("unknown", 0))
	h.pl.next = []models.Track{track("b", 180)}
	h.flush()

	h.sched.Advance(time.Hour)
	h.ctrl.Tick()
	assert.False(t, h.ctrl.Crossfading())
	assert.Empty(t, h.ctrl.View().DeckB.TrackID)

	h.ctrl.HandleEngineState(deck.A, deck.Ended)
	v := h.ctrl.View()
	assert.Equal(t, "b", v.DeckA.TrackID, "ended deck loads the upcoming track")
	assert.True(t, v.DeckA.Playing)
}

func TestUpdateLoopEndsTrack(t *testing.T) {
	h := newHarness(t, Settings{CrossfadeDuration: time.Second, AutoMix: false, MasterVolume: 80})
	h.ctrl.LoadVideo(deck.A, track("b", 180))
	drive := engine.Drive(h.sched, engine.Tick, h.sims[0], h.sims[1])
	defer drive.Cancel()
	h.ctrl.Start()

	h.sched.Advance(90 * time.Second)
	assert.InDelta(t, 90, h.ctrl.View().DeckA.CurrentTime, 0.2)
	h.sched.Advance(91 * time.Second)
	v := h.ctrl.View()
	assert.False(t, v.DeckA.Playing)
	assert.Equal(t, deck.StatusEnded, v.DeckA.Status)
}

// ── Presentation ────────────────────────────────────────

func TestConnectSendsSnapshotAndHandsOver(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.flush()
	h.ctrl.Seek(deck.A, 42)

	h.connect()
	require.True(t, h.ctrl.Connected())
	snaps := h.out.of(link.KindSnapshot)
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Equal(t, "a", s.DeckA.TrackID)
	assert.Equal(t, 42.0, s.DeckA.CurrentTime)
	assert.True(t, s.DeckA.Playing)
	assert.Equal(t, "b", s.DeckB.TrackID)
	assert.False(t, s.DeckB.Playing)
	assert.Equal(t, deck.A, s.ActiveDeck)

	assert.Equal(t, deck.Paused, h.sim(deck.A).State(), "local engine hands over")
	assert.Zero(t, h.sim(deck.A).Volume())
	assert.True(t, h.ctrl.View().DeckA.Playing, "the deck stays playing on the presentation")

	h.out.reset()
	h.ctrl.HandleMessage(link.Resync())
	assert.Len(t, h.out.of(link.KindSnapshot), 1, "every resync gets a snapshot")
}

func TestSnapshotActiveDeckTieBreak(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.LoadVideo(deck.B, track("b", 180))
	h.flush()
	assert.Equal(t, deck.A, h.ctrl.Snapshot().ActiveDeck, "equal volumes keep A")
	h.ctrl.SetDeckVolume(deck.A, 60)
	assert.Equal(t, deck.B, h.ctrl.Snapshot().ActiveDeck)
	h.ctrl.PauseDeck(deck.B)
	assert.Equal(t, deck.A, h.ctrl.Snapshot().ActiveDeck)
}

func TestConnectedCommandsAreSent(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.connect()
	h.out.reset()

	h.ctrl.CueVideo(deck.A, track("a", 200))
	h.ctrl.PlayDeck(deck.A)
	h.ctrl.SetCrossfader(30)
	h.ctrl.StopDeck(deck.A)

	kinds := make([]link.Kind, 0, len(h.out.msgs))
	for _, m := range h.out.msgs {
		kinds = append(kinds, m.Type)
	}
	assert.Equal(t, []link.Kind{
		link.KindLoad, link.KindPause, // cue
		link.KindPlay,
		link.KindVolume, link.KindVolume, link.KindCrossfader,
		link.KindPause, link.KindSeek, // stop
	}, kinds)

	vols := h.out.of(link.KindVolume)
	require.NotNil(t, vols[0].Level)
	assert.Equal(t, 56, *vols[0].Level)
	assert.Equal(t, 100, *vols[0].Volume)
	assert.Equal(t, deck.Unstarted, h.sim(deck.A).State(), "local engine untouched while connected")
}

func TestTimeUpdateAndDuration(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("x", 0))
	h.connect()
	assert.Zero(t, h.ctrl.View().DeckA.Duration)

	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "other", 5, 100, true, false))
	assert.Zero(t, h.ctrl.View().DeckA.CurrentTime, "reports for another track are ignored")

	h.ctrl.HandleMessage(link.DurationOf(deck.A, "x", 200))
	assert.Equal(t, 200.0, h.ctrl.View().DeckA.Duration)

	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "x", 12, 200, false, false))
	v := h.ctrl.View()
	assert.Equal(t, 12.0, v.DeckA.CurrentTime)
	assert.True(t, v.DeckA.Playing, "telemetry never decides play state")
	assert.Equal(t, h.sched.Now(), h.ctrl.LastTelemetry(deck.A).At)
}

func TestConnectedAutoTransitionNeedsFreshTelemetry(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.connect()

	h.ctrl.Tick()
	assert.False(t, h.ctrl.Crossfading(), "no telemetry yet")

	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "a", 197, 200, true, false))
	h.sched.Advance(2 * time.Second)
	h.ctrl.Tick()
	assert.False(t, h.ctrl.Crossfading(), "telemetry too old")

	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "a", 197, 200, true, false))
	h.out.reset()
	h.ctrl.Tick()
	assert.True(t, h.ctrl.Crossfading())
	plays := h.out.of(link.KindPlay)
	require.Len(t, plays, 1)
	assert.Equal(t, deck.B, plays[0].Deck)
}

func TestConnectedEndedReport(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.pl.next = []models.Track{track("b", 180)}
	h.connect()
	h.out.reset()

	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "a", 200, 200, false, true))
	loads := h.out.of(link.KindLoad)
	require.Len(t, loads, 1)
	assert.Equal(t, "b", loads[0].TrackID)
	assert.Equal(t, "b", h.ctrl.View().DeckA.TrackID)
}

func TestPeerClosedRestoresLocally(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.flush()
	h.connect()
	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "a", 42, 200, true, false))
	h.out.reset()

	h.ctrl.HandleMessage(link.Closed())
	h.flush()
	assert.False(t, h.ctrl.Connected())
	assert.Empty(t, h.out.msgs, "a peer that closed is not told to close")
	assert.Equal(t, 42.0, h.sim(deck.A).CurrentTime())
	assert.Equal(t, deck.Paused, h.sim(deck.A).State(), "restored paused first")
	assert.Equal(t, 40, h.sim(deck.A).Volume())

	h.sched.Advance(RestoreDelay)
	assert.Equal(t, deck.Playing, h.sim(deck.A).State())
	assert.True(t, h.ctrl.View().DeckA.Playing)

	h.ctrl.HandleMessage(link.Closed())
	assert.Empty(t, h.out.msgs, "duplicate closed is ignored")
}

func TestReconnectCancelsRestore(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.flush()
	h.connect()
	h.ctrl.HandleMessage(link.Closed())
	h.sched.Advance(RestoreDelay / 2)
	h.connect()
	h.sched.Advance(RestoreDelay)
	assert.NotEqual(t, deck.Playing, h.sim(deck.A).State(), "restore does not fight the presentation")
}

func TestOpenAndClosePresentation(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	require.NoError(t, h.ctrl.OpenPresentation())
	assert.Equal(t, 1, h.win.opened)

	h.connect()
	h.out.reset()
	require.NoError(t, h.ctrl.OpenPresentation(), "open while connected closes")
	assert.False(t, h.ctrl.Connected())
	assert.Equal(t, 1, h.win.closed)
	closes := h.out.of(link.KindClose)
	assert.Len(t, closes, 1)

	h.win.err = errors.New("no display")
	assert.Error(t, h.ctrl.OpenPresentation())
}

// ── Playlist hooks ──────────────────────────────────────

func TestEnqueued(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.Enqueued(1, track("a", 200))
	assert.Equal(t, "a", h.ctrl.View().DeckA.TrackID)
	assert.False(t, h.ctrl.View().DeckA.Playing)

	h.ctrl.Enqueued(2, track("b", 180))
	assert.Equal(t, "b", h.ctrl.View().DeckB.TrackID)

	h.ctrl.Enqueued(3, track("c", 240))
	assert.Equal(t, "a", h.ctrl.View().DeckA.TrackID)
	assert.Equal(t, "b", h.ctrl.View().DeckB.TrackID)
}

func TestEnqueuedLeavesPlayingDeck(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ctrl.LoadVideo(deck.B, track("b", 180))
	h.ctrl.Enqueued(1, track("a", 200))
	assert.Empty(t, h.ctrl.View().DeckA.TrackID, "something is already playing")
	h.ctrl.Enqueued(2, track("c", 240))
	assert.Equal(t, "b", h.ctrl.View().DeckB.TrackID)
}

func TestPreloadUpcoming(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.pl.next = []models.Track{track("a", 200), track("b", 180)}
	h.ctrl.PreloadUpcoming()
	assert.Equal(t, "a", h.ctrl.View().DeckA.TrackID)

	h.ctrl.PlayDeck(deck.A)
	h.ctrl.PreloadUpcoming()
	assert.Equal(t, "b", h.ctrl.View().DeckB.TrackID)
	assert.False(t, h.ctrl.View().DeckB.Playing)
}

func TestTelemetryMaxAge(t *testing.T) {
	h := newHarness(t, Settings{CrossfadeDuration: 5 * time.Second, AutoMix: true, MasterVolume: 80, TelemetryMaxAge: 5 * time.Second})
	h.ctrl.LoadVideo(deck.A, track("a", 200))
	h.ctrl.CueVideo(deck.B, track("b", 180))
	h.connect()
	h.ctrl.HandleMessage(link.TimeUpdate(deck.A, "a", 197, 200, true, false))
	h.sched.Advance(3 * time.Second)
	h.ctrl.Tick()
	assert.True(t, h.ctrl.Crossfading())

	h.ctrl.SetTelemetryMaxAge(0)
	assert.Equal(t, DefaultSettings().TelemetryMaxAge, h.ctrl.telemetryMaxAge)
}
