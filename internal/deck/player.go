package deck

import "log/slog"

// EngineState is a playback engine state-change notification. The numeric
// values match the ones emitted by the embedded video player.
type EngineState int

const (
	Unstarted EngineState = -1
	Ended     EngineState = 0
	Playing   EngineState = 1
	Paused    EngineState = 2
	Buffering EngineState = 3
	Cued      EngineState = 5
)

func (s EngineState) String() string {
	switch s {
	case Unstarted:
		return "UNSTARTED"
	case Ended:
		return "ENDED"
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED"
	case Buffering:
		return "BUFFERING"
	case Cued:
		return "CUED"
	}
	return "UNKNOWN"
}

// Status maps an engine notification to a display status.
func (s EngineState) Status() Status {
	switch s {
	case Ended:
		return StatusEnded
	case Playing:
		return StatusPlaying
	case Paused:
		return StatusPaused
	case Buffering:
		return StatusBuffering
	case Cued:
		return StatusCued
	}
	return StatusStopped
}

// Engine is an opaque single-stream playback object. Calls are
// fire-and-forget; effects are reported asynchronously through the state
// callback the engine was constructed with.
type Engine interface {
	Ready() bool
	Load(trackID string, start float64) // load and start playing
	Cue(trackID string, start float64)  // load without playing
	Play()
	Pause()
	Stop()
	Seek(t float64)
	SetVolume(level int)
	CurrentTime() float64
	Duration() float64
	State() EngineState
}

// Player binds one Engine to a deck. Every operation is a no-op while the
// engine is missing or not ready yet.
type Player struct {
	deck   ID
	engine Engine
	loaded string // track currently in the engine
}

// NewPlayer creates a Player for deck d. e may be nil until the engine
// exists; see Attach.
func NewPlayer(d ID, e Engine) *Player {
	return &Player{deck: d, engine: e}
}

// Attach sets (or replaces) the underlying engine.
func (p *Player) Attach(e Engine) {
	p.engine = e
	p.loaded = ""
}

// Deck returns the deck this player is bound to.
func (p *Player) Deck() ID { return p.deck }

// Ready reports whether the engine can accept commands.
func (p *Player) Ready() bool {
	return p != nil && p.engine != nil && p.engine.Ready()
}

// Loaded returns the track last loaded into the engine.
func (p *Player) Loaded() string { return p.loaded }

// Load loads trackID at start seconds and plays it. Loading the track that
// is already in the engine seeks instead of reloading, and resumes it when
// it was paused or had ended.
func (p *Player) Load(trackID string, start float64) {
	if !p.Ready() || trackID == "" {
		p.skip("load")
		return
	}
	if start < 0 {
		start = 0
	}
	if p.loaded == trackID {
		slog.Debug("deck load is a seek (same track)", "deck", p.deck, "track", trackID, "time", start)
		if p.engine.State() != Playing {
			p.engine.Play()
		}
		p.engine.Seek(start)
		return
	}
	p.engine.Load(trackID, start)
	p.loaded = trackID
}

// Cue loads trackID without starting playback. Cueing the loaded track
// seeks and pauses.
func (p *Player) Cue(trackID string, start float64) {
	if !p.Ready() || trackID == "" {
		p.skip("cue")
		return
	}
	if p.loaded == trackID {
		p.engine.Seek(start)
		p.engine.Pause()
		return
	}
	p.engine.Cue(trackID, start)
	p.loaded = trackID
}

func (p *Player) Play() {
	if !p.Ready() {
		p.skip("play")
		return
	}
	p.engine.Play()
}

func (p *Player) Pause() {
	if !p.Ready() {
		p.skip("pause")
		return
	}
	p.engine.Pause()
}

func (p *Player) Stop() {
	if !p.Ready() {
		p.skip("stop")
		return
	}
	p.engine.Stop()
}

// Eject stops the engine and forgets the loaded track, so the next Load
// of any track is a fresh load.
func (p *Player) Eject() {
	if p.Ready() && p.loaded != "" {
		p.engine.Stop()
	}
	if p != nil {
		p.loaded = ""
	}
}

func (p *Player) Seek(t float64) {
	if !p.Ready() {
		p.skip("seek")
		return
	}
	if t < 0 {
		t = 0
	}
	p.engine.Seek(t)
}

// SetVolume applies an effective output level (0-100).
func (p *Player) SetVolume(level int) {
	if !p.Ready() {
		return
	}
	p.engine.SetVolume(ClampLevel(level))
}

// Timing returns the engine's current time and duration, or zeros when the
// engine is not ready.
func (p *Player) Timing() (current, duration float64) {
	if !p.Ready() {
		return 0, 0
	}
	return p.engine.CurrentTime(), p.engine.Duration()
}

// State returns the engine state, or Unstarted when not ready.
func (p *Player) State() EngineState {
	if !p.Ready() {
		return Unstarted
	}
	return p.engine.State()
}

func (p *Player) skip(op string) {
	slog.Debug("deck engine not ready, ignoring", "deck", p.deck, "op", op)
}
