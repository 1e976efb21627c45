// Package engine provides a simulated playback engine. It stands in for a
// real video player wherever one is not available: the headless
// presentation peer, a console without a browser engine, and tests.
package engine

import (
	"log/slog"
	"time"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

// Tick is the default Drive interval.
const Tick = 100 * time.Millisecond

// DurationFunc resolves a track's duration in seconds (0 = unknown).
type DurationFunc func(trackID string) float64

// Sim is a virtual-clock playback engine. Playback time advances only in
// Advance, and only while playing. State changes are delivered to the
// callback asynchronously through the scheduler, like a real player.
type Sim struct {
	name     string
	sched    schedule.Scheduler
	duration DurationFunc
	onState  func(deck.EngineState)
	onReady  func()

	ready   bool
	state   deck.EngineState
	track   string
	current float64
	length  float64
	volume  int
}

// NewSim creates an engine that is not ready until Init is called.
// onState and onReady may be nil.
func NewSim(name string, sched schedule.Scheduler, duration DurationFunc, onState func(deck.EngineState), onReady func()) *Sim {
	if duration == nil {
		duration = func(string) float64 { return 0 }
	}
	return &Sim{
		name:     name,
		sched:    sched,
		duration: duration,
		onState:  onState,
		onReady:  onReady,
		state:    deck.Unstarted,
		volume:   100,
	}
}

// Init marks the engine ready and fires the ready callback asynchronously.
func (s *Sim) Init() {
	if s.ready {
		return
	}
	s.ready = true
	if s.onReady != nil {
		s.sched.Post(s.onReady)
	}
}

func (s *Sim) Ready() bool { return s.ready }

func (s *Sim) Load(trackID string, start float64) {
	s.open(trackID, start)
	s.setState(deck.Playing)
}

func (s *Sim) Cue(trackID string, start float64) {
	s.open(trackID, start)
	s.setState(deck.Cued)
}

func (s *Sim) open(trackID string, start float64) {
	s.track = trackID
	s.length = s.duration(trackID)
	s.current = 0
	s.Seek(start)
	slog.Debug("engine load", "engine", s.name, "track", trackID, "start", start, "duration", s.length)
}

func (s *Sim) Play() {
	if s.track == "" {
		return
	}
	if s.state == deck.Ended {
		s.current = 0
	}
	s.setState(deck.Playing)
}

func (s *Sim) Pause() {
	if s.track == "" {
		return
	}
	s.setState(deck.Paused)
}

// Stop rewinds to the start and leaves the track cued.
func (s *Sim) Stop() {
	if s.track == "" {
		return
	}
	s.current = 0
	s.setState(deck.Cued)
}

func (s *Sim) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	if s.length > 0 && t > s.length {
		t = s.length
	}
	s.current = t
}

func (s *Sim) SetVolume(level int) { s.volume = level }

func (s *Sim) CurrentTime() float64 { return s.current }

func (s *Sim) Duration() float64 { return s.length }

func (s *Sim) State() deck.EngineState { return s.state }

// Volume returns the last applied output level.
func (s *Sim) Volume() int { return s.volume }

// Track returns the loaded track id.
func (s *Sim) Track() string { return s.track }

// Advance moves playback forward by dt when playing. Reaching a known
// duration ends the track.
func (s *Sim) Advance(dt time.Duration) {
	if s.state != deck.Playing {
		return
	}
	s.current += dt.Seconds()
	if s.length > 0 && s.current >= s.length {
		s.current = s.length
		s.setState(deck.Ended)
	}
}

func (s *Sim) setState(st deck.EngineState) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		s.sched.Post(func() { s.onState(st) })
	}
}

// Drive advances the given engines by interval on every scheduler tick.
func Drive(sched schedule.Scheduler, interval time.Duration, sims ...*Sim) schedule.Task {
	return sched.Every(interval, func() {
		for _, s := range sims {
			s.Advance(interval)
		}
	})
}
