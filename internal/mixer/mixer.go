// Package mixer is the authoritative Mix Controller of the console. It owns
// both deck records and the mixer record, computes effective volumes, runs
// crossfades and the auto-transition policy, and drives a presentation peer
// over the sync channel.
//
// A Controller is not safe for concurrent use. All calls, including
// scheduler callbacks, engine notifications and inbound messages, must be
// made from one goroutine (see schedule.Loop).
package mixer

import (
	"log/slog"
	"time"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/models"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

const (
	// CrossfadeSteps is the fixed number of crossfader updates per crossfade.
	CrossfadeSteps = 50
	// TickInterval is the update loop period.
	TickInterval = 100 * time.Millisecond
	// RestoreDelay is how long restored decks wait before resuming playback
	// after the presentation closes.
	RestoreDelay = time.Second
	// NextTrackWait is how long NextTrack waits for a freshly loaded deck
	// before crossfading to it.
	NextTrackWait = 500 * time.Millisecond

	MinCrossfade = time.Second
	MaxCrossfade = 30 * time.Second
)

// Playlist supplies the tracks the controller advances through.
type Playlist interface {
	// Upcoming returns the entry after the current one.
	Upcoming() (models.Track, bool)
	// Focus moves the current index to trackID, if present.
	Focus(trackID string)
}

// Window opens the presentation surface.
type Window interface {
	Open() error
	Close() error
}

// Sender transmits sync channel messages.
type Sender interface {
	Send(m link.Message) error
}

// Settings are the user-adjustable mixer options.
type Settings struct {
	CrossfadeDuration time.Duration
	AutoMix           bool
	MasterVolume      int
	// TelemetryMaxAge bounds how old the active deck's presentation
	// telemetry may be for auto-transition to act on it.
	TelemetryMaxAge time.Duration
}

// DefaultSettings returns the factory settings.
func DefaultSettings() Settings {
	return Settings{
		CrossfadeDuration: 5 * time.Second,
		AutoMix:           true,
		MasterVolume:      80,
		TelemetryMaxAge:   1500 * time.Millisecond,
	}
}

// Telemetry is the last timing report received for a deck.
type Telemetry struct {
	At          time.Time `json:"at"`
	TrackID     string    `json:"trackId,omitempty"`
	CurrentTime float64   `json:"currentTime"`
	Duration    float64   `json:"duration"`
	Playing     bool      `json:"playing"`
	Ended       bool      `json:"ended"`
}

// View is a read-only copy of the controller state for presentation layers.
type View struct {
	DeckA             deck.State `json:"deckA"`
	DeckB             deck.State `json:"deckB"`
	EffectiveA        int        `json:"effectiveA"`
	EffectiveB        int        `json:"effectiveB"`
	Crossfader        int        `json:"crossfader"`
	MasterVolume      int        `json:"masterVolume"`
	ActiveDeck        deck.ID    `json:"activeDeck"`
	Crossfading       bool       `json:"crossfading"`
	AutoMix           bool       `json:"autoMix"`
	CrossfadeDuration float64    `json:"crossfadeDuration"` // seconds
	Connected         bool       `json:"connected"`
}

// Deck returns the state of d.
func (v View) Deck(d deck.ID) deck.State {
	if d == deck.B {
		return v.DeckB
	}
	return v.DeckA
}

// Controller is the Mix Controller.
type Controller struct {
	sched    schedule.Scheduler
	out      Sender
	playlist Playlist
	window   Window
	players  [2]*deck.Player

	decks       [2]deck.State
	crossfader  int
	master      int
	active      deck.ID
	crossfading bool
	fade        schedule.Task

	autoMix         bool
	crossfadeDur    time.Duration
	telemetryMaxAge time.Duration

	connected bool
	telemetry [2]Telemetry

	ticker   schedule.Task
	restore  schedule.Task
	nextWait schedule.Task

	listeners []func(View)
}

// New creates a controller for the two deck players. out, playlist and
// window may be nil.
func New(sched schedule.Scheduler, a, b *deck.Player, out Sender, playlist Playlist, window Window, s Settings) *Controller {
	c := &Controller{
		sched:           sched,
		out:             out,
		playlist:        playlist,
		window:          window,
		players:         [2]*deck.Player{a, b},
		decks:           [2]deck.State{deck.NewState(), deck.NewState()},
		crossfader:      50,
		master:          deck.ClampLevel(s.MasterVolume),
		active:          deck.A,
		autoMix:         s.AutoMix,
		crossfadeDur:    clampCrossfade(s.CrossfadeDuration),
		telemetryMaxAge: s.TelemetryMaxAge,
	}
	if c.telemetryMaxAge <= 0 {
		c.telemetryMaxAge = DefaultSettings().TelemetryMaxAge
	}
	return c
}

func clampCrossfade(d time.Duration) time.Duration {
	if d < MinCrossfade {
		return MinCrossfade
	}
	if d > MaxCrossfade {
		return MaxCrossfade
	}
	return d
}

// OnChange registers fn to receive a View after every state change.
func (c *Controller) OnChange(fn func(View)) {
	c.listeners = append(c.listeners, fn)
}

// View returns the current state.
func (c *Controller) View() View {
	return View{
		DeckA:             c.decks[0],
		DeckB:             c.decks[1],
		EffectiveA:        c.effective(deck.A),
		EffectiveB:        c.effective(deck.B),
		Crossfader:        c.crossfader,
		MasterVolume:      c.master,
		ActiveDeck:        c.active,
		Crossfading:       c.crossfading,
		AutoMix:           c.autoMix,
		CrossfadeDuration: c.crossfadeDur.Seconds(),
		Connected:         c.connected,
	}
}

func (c *Controller) changed() {
	if len(c.listeners) == 0 {
		return
	}
	v := c.View()
	for _, fn := range c.listeners {
		fn(v)
	}
}

// Connected reports whether a presentation peer is connected.
func (c *Controller) Connected() bool { return c.connected }

// Crossfading reports whether a crossfade is running.
func (c *Controller) Crossfading() bool { return c.crossfading }

// ActiveDeck returns the deck currently considered on air.
func (c *Controller) ActiveDeck() deck.ID { return c.active }

// SetAutoMix enables or disables automatic transitions.
func (c *Controller) SetAutoMix(on bool) {
	c.autoMix = on
	slog.Info("auto-mix", "enabled", on)
	c.changed()
}

// SetCrossfadeDuration sets the crossfade length, clamped to 1-30 s. A
// running crossfade keeps its original timing.
func (c *Controller) SetCrossfadeDuration(d time.Duration) {
	c.crossfadeDur = clampCrossfade(d)
	c.changed()
}

// SetTelemetryMaxAge bounds how stale presentation telemetry may be for
// auto-transition. Non-positive values restore the default.
func (c *Controller) SetTelemetryMaxAge(d time.Duration) {
	if d <= 0 {
		d = DefaultSettings().TelemetryMaxAge
	}
	c.telemetryMaxAge = d
}

// Start begins the update loop.
func (c *Controller) Start() {
	if c.ticker != nil && c.ticker.Active() {
		return
	}
	c.applyVolumes()
	c.ticker = c.sched.Every(TickInterval, c.Tick)
}

// Stop halts the update loop and every pending timer, including a running
// crossfade.
func (c *Controller) Stop() {
	for _, t := range []schedule.Task{c.ticker, c.fade, c.restore, c.nextWait} {
		if t != nil {
			t.Cancel()
		}
	}
	c.crossfading = false
}

// send transmits m only while a presentation peer is connected.
func (c *Controller) send(m link.Message) {
	if !c.connected {
		return
	}
	c.transmit(m)
}

func (c *Controller) transmit(m link.Message) {
	if c.out == nil {
		return
	}
	if err := c.out.Send(m); err != nil {
		slog.Warn("sync send failed", "type", m.Type, "error", err)
	}
}

func (c *Controller) player(d deck.ID) *deck.Player { return c.players[d.Index()] }
func (c *Controller) state(d deck.ID) *deck.State   { return &c.decks[d.Index()] }
