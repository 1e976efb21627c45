package mirror

import (
	"fmt"
	"log/slog"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/engine"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

// Session is a running presentation: a Mirror with two simulated engines
// attached to a sync channel transport.
type Session struct {
	Mirror *Mirror
	Sims   [2]*engine.Sim

	ep     *link.Endpoint
	cancel func()
	drive  schedule.Task
}

// Run starts a presentation on t. Inbound messages and engine callbacks are
// handed to the mirror through sched, so t may deliver from any goroutine
// as long as sched serialises callbacks. onClose runs after the mirror has
// shut down.
func Run(sched schedule.Scheduler, t link.Transport, duration engine.DurationFunc, onClose func()) *Session {
	s := &Session{ep: link.NewEndpoint(t)}
	var m *Mirror
	for _, d := range deck.Both {
		s.Sims[d.Index()] = engine.NewSim("presentation-"+d.String(), sched, duration,
			func(st deck.EngineState) { m.HandleEngineState(d, st) },
			func() { m.HandleEngineReady(d) })
	}
	m = New(sched, s.ep,
		deck.NewPlayer(deck.A, s.Sims[0]),
		deck.NewPlayer(deck.B, s.Sims[1]),
		func() {
			s.stop()
			if onClose != nil {
				onClose()
			}
		})
	s.Mirror = m
	s.cancel = s.ep.Subscribe(func(msg link.Message) {
		sched.Post(func() { m.HandleMessage(msg) })
	})
	s.drive = engine.Drive(sched, engine.Tick, s.Sims[0], s.Sims[1])
	m.Start()
	for _, sim := range s.Sims {
		sim.Init()
	}
	return s
}

func (s *Session) stop() {
	s.drive.Cancel()
	s.cancel()
	if err := s.ep.Close(); err != nil {
		slog.Debug("presentation transport close", "error", err)
	}
}

// Local is an in-process presentation window on a Bus. It lets the console
// hand playback to a mirror without a second browser window.
type Local struct {
	sched    schedule.Scheduler
	bus      *link.Bus
	duration engine.DurationFunc
	cur      *Session
}

// NewLocal creates a window that attaches presentations to bus.
func NewLocal(sched schedule.Scheduler, bus *link.Bus, duration engine.DurationFunc) *Local {
	return &Local{sched: sched, bus: bus, duration: duration}
}

// Open starts a presentation unless one is already running.
func (l *Local) Open() error {
	if l.bus == nil {
		return fmt.Errorf("mirror: open local presentation: no bus")
	}
	if l.cur != nil && !l.cur.Mirror.closed {
		return nil
	}
	var s *Session
	s = Run(l.sched, l.bus.Port(), l.duration, func() {
		if l.cur == s {
			l.cur = nil
		}
	})
	l.cur = s
	slog.Info("local presentation opened")
	return nil
}

// Close shuts the running presentation down.
func (l *Local) Close() error {
	if l.cur == nil {
		return nil
	}
	l.cur.Mirror.Shutdown()
	l.cur = nil
	return nil
}

// IsOpen reports whether a presentation is running.
func (l *Local) IsOpen() bool { return l.cur != nil }

// Current returns the running session, or nil.
func (l *Local) Current() *Session { return l.cur }
