package mixer

import (
	"log/slog"
	"time"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/schedule"
)

// StartCrossfade ramps the crossfader from the source deck's extreme to the
// target's in CrossfadeSteps equal steps over the crossfade duration, after
// starting the target deck. It returns false, changing nothing, when a
// crossfade is already running or the decks are not distinct.
//
// The crossfading flag is taken before the step timer is scheduled and is
// released only by the final step.
func (c *Controller) StartCrossfade(from, to deck.ID) bool {
	if c.crossfading || !from.Valid() || !to.Valid() || from == to {
		return false
	}
	c.crossfading = true

	start, end := 0, 100
	if from == deck.B {
		start = 100
	}
	if to == deck.A {
		end = 0
	}
	interval := c.crossfadeDur / CrossfadeSteps
	if interval <= 0 {
		interval = time.Millisecond
	}
	slog.Info("crossfade start", "from", from, "to", to, "duration", c.crossfadeDur)

	c.startTarget(to)

	step := 0
	var task schedule.Task
	task = c.sched.Every(interval, func() {
		step++
		c.SetCrossfader(start + (end-start)*step/CrossfadeSteps)
		if step >= CrossfadeSteps {
			task.Cancel()
			c.finishCrossfade(from, to)
		}
	})
	c.fade = task
	c.changed()
	return true
}

func (c *Controller) startTarget(to deck.ID) {
	if c.connected {
		c.send(link.Play(to))
		c.started(to)
		return
	}
	p := c.player(to)
	if !p.Ready() {
		return
	}
	p.Play()
	if p.State() == deck.Playing {
		c.started(to)
	}
}

func (c *Controller) finishCrossfade(from, to deck.ID) {
	c.crossfading = false
	c.fade = nil
	c.active = to
	if id := c.state(to).TrackID; id != "" && c.playlist != nil {
		c.playlist.Focus(id)
	}
	slog.Info("crossfade done", "active", to)

	c.StopDeck(from)
	c.loadUpcoming(from, false)
	c.changed()
}

// NextTrack crossfades to the other deck. When that deck is empty, the
// upcoming playlist entry is loaded onto it first and the crossfade starts
// NextTrackWait later if the load took.
func (c *Controller) NextTrack() {
	if c.crossfading {
		return
	}
	from := c.active
	to := from.Other()
	if c.state(to).Loaded() {
		c.StartCrossfade(from, to)
		return
	}
	if !c.loadUpcoming(to, true) {
		return
	}
	if c.nextWait != nil {
		c.nextWait.Cancel()
	}
	c.nextWait = c.sched.After(NextTrackWait, func() {
		if c.state(to).Loaded() {
			c.StartCrossfade(from, to)
		}
	})
}
