package mixer

import (
	"log/slog"

	"github.com/jota2rz/dualdeck/internal/deck"
)

// Tick is one pass of the update loop: refresh deck timing from the local
// engines (the presentation reports its own) and evaluate auto-transition.
func (c *Controller) Tick() {
	if !c.connected {
		for _, d := range deck.Both {
			p := c.player(d)
			s := c.state(d)
			if !p.Ready() || !s.Loaded() || p.Loaded() != s.TrackID {
				continue
			}
			s.SetTiming(p.Timing())
		}
	}
	c.CheckAutoTransition()
	c.changed()
}

// CheckAutoTransition starts the move to the other deck when the active
// deck is within the crossfade duration of its end. If the other deck is
// empty, the upcoming playlist entry is cued onto it and the crossfade is
// left to a later tick.
//
// Nothing happens when the duration is unknown, or, with a presentation
// connected, when its timing report for the active deck is older than the
// telemetry age limit.
func (c *Controller) CheckAutoTransition() {
	if !c.autoMix || c.crossfading {
		return
	}
	a := c.active
	if !c.state(a).Playing {
		return
	}

	var current, duration float64
	if c.connected {
		t := c.telemetry[a.Index()]
		if t.At.IsZero() || c.sched.Now().Sub(t.At) > c.telemetryMaxAge {
			slog.Debug("auto-transition skipped, telemetry stale", "deck", a, "at", t.At)
			return
		}
		current, duration = c.state(a).CurrentTime, c.state(a).Duration
	} else {
		p := c.player(a)
		if !p.Ready() {
			return
		}
		current, duration = p.Timing()
	}
	if duration <= 0 {
		return
	}

	remaining := duration - current
	if remaining <= 0 || remaining > c.crossfadeDur.Seconds() {
		return
	}
	other := a.Other()
	if c.state(other).Loaded() {
		c.StartCrossfade(a, other)
		return
	}
	slog.Info("auto-transition preparing next deck", "deck", other, "remaining", remaining)
	c.loadUpcoming(other, false)
}
