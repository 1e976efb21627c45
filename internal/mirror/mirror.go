// Package mirror is the presentation side of the sync channel. A Mirror
// owns its own pair of playback engines and is driven only by messages
// from the controller. It never originates intent; it reports readiness,
// durations and playback timing back.
//
// Like the controller, a Mirror must be used from a single goroutine.
package mirror

import (
	"log/slog"
	"time"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/mixer"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

const (
	// ResyncDelay separates the ready announcement from the follow-up
	// resync request.
	ResyncDelay = 300 * time.Millisecond
	// PlayDelay is how long a snapshot waits after loading a deck before
	// starting it.
	PlayDelay = 500 * time.Millisecond
	// DurationDelay is how long after CUED/PLAYING the duration is read.
	DurationDelay = 500 * time.Millisecond
	// TelemetryInterval is the timing report period.
	TelemetryInterval = 500 * time.Millisecond
)

// Sender transmits sync channel messages.
type Sender interface {
	Send(m link.Message) error
}

// Mirror mirrors the controller's decks onto local engines.
type Mirror struct {
	sched   schedule.Scheduler
	out     Sender
	players [2]*deck.Player

	tracks     [2]string
	volumes    [2]int
	playing    [2]bool
	master     int
	crossfader int
	active     deck.ID
	// levels holds the controller-computed output per deck once one has
	// been received; until then the level is derived locally.
	levels [2]*int

	ready     [2]bool
	announced bool
	closed    bool

	pending   [2]schedule.Task
	resync    schedule.Task
	telemetry schedule.Task
	onClose   func()
}

// New creates a mirror for the two deck players. onClose, which may be nil,
// runs once when the mirror shuts down.
func New(sched schedule.Scheduler, out Sender, a, b *deck.Player, onClose func()) *Mirror {
	return &Mirror{
		sched:      sched,
		out:        out,
		players:    [2]*deck.Player{a, b},
		volumes:    [2]int{100, 100},
		master:     80,
		crossfader: 50,
		active:     deck.A,
		onClose:    onClose,
	}
}

// Start begins periodic telemetry.
func (m *Mirror) Start() {
	if m.telemetry != nil && m.telemetry.Active() {
		return
	}
	m.telemetry = m.sched.Every(TelemetryInterval, m.reportTiming)
}

func (m *Mirror) send(msg link.Message) {
	if m.closed || m.out == nil {
		return
	}
	if err := m.out.Send(msg); err != nil {
		slog.Warn("mirror send failed", "type", msg.Type, "error", err)
	}
}

func (m *Mirror) player(d deck.ID) *deck.Player { return m.players[d.Index()] }

// HandleEngineReady records that the engine of d is ready. Once both are,
// the mirror announces itself and requests a resync shortly after.
func (m *Mirror) HandleEngineReady(d deck.ID) {
	if !d.Valid() || m.closed {
		return
	}
	m.ready[d.Index()] = true
	m.applyVolume(d)
	if m.announced || !m.ready[0] || !m.ready[1] {
		return
	}
	m.announced = true
	slog.Info("presentation ready")
	m.send(link.Ready())
	m.resync = m.sched.After(ResyncDelay, func() {
		m.send(link.Resync())
	})
}

// HandleEngineState reports the duration of d shortly after its engine
// becomes CUED or PLAYING.
func (m *Mirror) HandleEngineState(d deck.ID, st deck.EngineState) {
	if !d.Valid() || m.closed {
		return
	}
	slog.Debug("mirror engine state", "deck", d, "state", st)
	if st != deck.Cued && st != deck.Playing {
		return
	}
	m.sched.After(DurationDelay, func() {
		p := m.player(d)
		if _, dur := p.Timing(); dur > 0 {
			m.send(link.DurationOf(d, p.Loaded(), dur))
		}
	})
}

func (m *Mirror) reportTiming() {
	for _, d := range deck.Both {
		p := m.player(d)
		if !p.Ready() || p.Loaded() == "" {
			continue
		}
		cur, dur := p.Timing()
		if dur <= 0 {
			continue
		}
		st := p.State()
		m.send(link.TimeUpdate(d, p.Loaded(), cur, dur, st == deck.Playing, st == deck.Ended))
	}
}

// HandleMessage applies a controller command. Reports from other
// presentations are ignored.
func (m *Mirror) HandleMessage(msg link.Message) {
	if m.closed {
		return
	}
	if err := msg.Validate(); err != nil {
		slog.Debug("mirror dropping message", "error", err)
		return
	}
	d := msg.Deck
	switch msg.Type {
	case link.KindLoad:
		m.cancelPending(d)
		m.load(d, msg.TrackID, msg.StartTime)
		m.player(d).Play()
		m.playing[d.Index()] = true
	case link.KindPlay:
		m.cancelPending(d)
		m.player(d).Play()
		m.playing[d.Index()] = true
	case link.KindPause:
		m.cancelPending(d)
		m.player(d).Pause()
		m.playing[d.Index()] = false
	case link.KindSeek:
		m.player(d).Seek(*msg.Time)
	case link.KindVolume:
		m.volumes[d.Index()] = deck.ClampLevel(*msg.Volume)
		if msg.Level != nil {
			lvl := deck.ClampLevel(*msg.Level)
			m.levels[d.Index()] = &lvl
		}
		m.applyVolume(d)
	case link.KindMasterVolume:
		m.master = deck.ClampLevel(*msg.Volume)
		m.applyVolumes()
	case link.KindCrossfader:
		m.crossfader = deck.ClampLevel(*msg.Position)
		m.applyVolumes()
	case link.KindSnapshot:
		m.applySnapshot(msg)
	case link.KindClose:
		m.Shutdown()
	}
}

func (m *Mirror) load(d deck.ID, trackID string, start float64) {
	m.tracks[d.Index()] = trackID
	m.player(d).Load(trackID, start)
}

func (m *Mirror) cancelPending(d deck.ID) {
	if t := m.pending[d.Index()]; t != nil {
		t.Cancel()
		m.pending[d.Index()] = nil
	}
}

// applySnapshot replaces all mirrored state with the snapshot's. A deck
// entry without a track clears the deck; nothing is loaded for it.
func (m *Mirror) applySnapshot(msg link.Message) {
	for _, d := range deck.Both {
		e := msg.DeckEntry(d)
		i := d.Index()
		m.cancelPending(d)
		m.volumes[i] = deck.ClampLevel(e.Volume)
		m.levels[i] = nil
		m.playing[i] = e.Playing

		if e.TrackID == "" {
			m.tracks[i] = ""
			m.playing[i] = false
			m.player(d).Eject()
			continue
		}
		m.tracks[i] = e.TrackID
		m.player(d).Cue(e.TrackID, e.CurrentTime)
		if e.Playing {
			p := m.player(d)
			m.pending[i] = m.sched.After(PlayDelay, func() {
				m.pending[i] = nil
				p.Play()
			})
		}
	}
	if msg.CrossfaderPosition != nil {
		m.crossfader = deck.ClampLevel(*msg.CrossfaderPosition)
	}
	if msg.MasterVolume != nil {
		m.master = deck.ClampLevel(*msg.MasterVolume)
	}
	if msg.ActiveDeck.Valid() {
		m.active = msg.ActiveDeck
	}
	m.applyVolumes()
	slog.Info("presentation synchronised", "a", m.tracks[0], "b", m.tracks[1])
}

// Level returns the output level applied to d.
func (m *Mirror) Level(d deck.ID) int {
	if l := m.levels[d.Index()]; l != nil {
		return *l
	}
	return mixer.EffectiveVolume(d, m.volumes[d.Index()], m.master, m.crossfader)
}

func (m *Mirror) applyVolume(d deck.ID) {
	m.player(d).SetVolume(m.Level(d))
}

func (m *Mirror) applyVolumes() {
	for _, d := range deck.Both {
		m.applyVolume(d)
	}
}

// Opacity is the cross-dissolve weight of d.
func (m *Mirror) Opacity(d deck.ID) float64 { return mixer.Opacity(d, m.crossfader) }

// Front returns the deck drawn on top: the more opaque one, A on ties.
func (m *Mirror) Front() deck.ID {
	if m.Opacity(deck.B) > m.Opacity(deck.A) {
		return deck.B
	}
	return deck.A
}

// State describes the mirror for display and tests.
type State struct {
	Tracks     [2]string `json:"tracks"`
	Playing    [2]bool   `json:"playing"`
	Levels     [2]int    `json:"levels"`
	Crossfader int       `json:"crossfader"`
	Master     int       `json:"master"`
	Active     deck.ID   `json:"active"`
	Closed     bool      `json:"closed"`
}

func (m *Mirror) State() State {
	return State{
		Tracks:     m.tracks,
		Playing:    m.playing,
		Levels:     [2]int{m.Level(deck.A), m.Level(deck.B)},
		Crossfader: m.crossfader,
		Master:     m.master,
		Active:     m.active,
		Closed:     m.closed,
	}
}

// Shutdown stops the mirror and tells the controller it has closed.
func (m *Mirror) Shutdown() {
	if m.closed {
		return
	}
	m.send(link.Closed())
	m.closed = true
	for _, t := range []schedule.Task{m.pending[0], m.pending[1], m.resync, m.telemetry} {
		if t != nil {
			t.Cancel()
		}
	}
	for _, d := range deck.Both {
		m.player(d).Pause()
	}
	slog.Info("presentation closed")
	if m.onClose != nil {
		m.onClose()
	}
}
