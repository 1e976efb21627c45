package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

func durations(m map[string]float64) DurationFunc {
	return func(id string) float64 { return m[id] }
}

func TestSimPlaysToEnd(t *testing.T) {
	sched := schedule.NewManual()
	var states []deck.EngineState
	ready := false
	s := NewSim("test", sched, durations(map[string]float64{"x": 1}),
		func(st deck.EngineState) { states = append(states, st) },
		func() { ready = true })

	assert.False(t, s.Ready())
	s.Init()
	assert.True(t, s.Ready())
	assert.False(t, ready, "ready is delivered asynchronously")
	sched.Advance(0)
	assert.True(t, ready)

	drive := Drive(sched, Tick, s)
	s.Load("x", 0)
	assert.Equal(t, deck.Playing, s.State())
	sched.Advance(500 * time.Millisecond)
	assert.InDelta(t, 0.5, s.CurrentTime(), 1e-9)

	sched.Advance(time.Second)
	assert.Equal(t, deck.Ended, s.State())
	assert.Equal(t, 1.0, s.CurrentTime())
	assert.Equal(t, []deck.EngineState{deck.Playing, deck.Ended}, states)

	s.Play()
	assert.Zero(t, s.CurrentTime(), "replay after end starts over")
	drive.Cancel()
}

func TestSimCueAndStop(t *testing.T) {
	sched := schedule.NewManual()
	s := NewSim("test", sched, durations(map[string]float64{"x": 100}), nil, nil)
	s.Init()

	s.Play()
	assert.Equal(t, deck.Unstarted, s.State(), "nothing loaded")

	s.Cue("x", 30)
	assert.Equal(t, deck.Cued, s.State())
	assert.Equal(t, 30.0, s.CurrentTime())
	s.Advance(time.Second)
	assert.Equal(t, 30.0, s.CurrentTime(), "cued engine does not advance")

	s.Seek(500)
	assert.Equal(t, 100.0, s.CurrentTime())
	s.Seek(-1)
	assert.Zero(t, s.CurrentTime())

	s.Play()
	s.Advance(2 * time.Second)
	s.Stop()
	assert.Equal(t, deck.Cued, s.State())
	assert.Zero(t, s.CurrentTime())
	assert.Equal(t, "x", s.Track())
}

func TestSimUnknownDurationNeverEnds(t *testing.T) {
	sched := schedule.NewManual()
	s := NewSim("test", sched, nil, nil, nil)
	s.Init()
	s.Load("mystery", 0)
	s.Advance(time.Hour)
	assert.Equal(t, deck.Playing, s.State())
	assert.Zero(t, s.Duration())
}
