package mixer

import (
	"log/slog"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
)

// HandleMessage applies a message received from the presentation peer.
// Commands addressed to a presentation are ignored.
func (c *Controller) HandleMessage(m link.Message) {
	switch m.Type {
	case link.KindReady, link.KindResync:
		c.connect(m.Type)
	case link.KindClosed:
		if !c.connected {
			return
		}
		slog.Info("presentation closed by peer")
		c.disconnect(false)
	case link.KindTimeUpdate:
		c.timeUpdate(m)
	case link.KindDuration:
		if !c.connected || !m.Deck.Valid() {
			return
		}
		s := c.state(m.Deck)
		if s.Loaded() && (m.TrackID == "" || m.TrackID == s.TrackID) {
			s.SetTiming(s.CurrentTime, m.Duration)
			c.changed()
		}
	}
}

// connect marks the presentation connected and pushes a full snapshot. The
// peer's prior state is unknown, so this is done on every ready or resync
// request, not just the first.
func (c *Controller) connect(kind link.Kind) {
	fresh := !c.connected
	if fresh {
		for _, d := range deck.Both {
			p, s := c.player(d), c.state(d)
			if p.Ready() && s.Loaded() && p.Loaded() == s.TrackID {
				s.SetTiming(p.Timing())
			}
		}
		if c.restore != nil {
			c.restore.Cancel()
		}
		slog.Info("presentation connected", "via", kind)
	}
	c.connected = true
	c.telemetry = [2]Telemetry{}
	c.sendSnapshot()
	c.applyVolumes()
	if fresh {
		for _, d := range deck.Both {
			if c.player(d).State() == deck.Playing {
				c.player(d).Pause()
			}
		}
	}
	c.changed()
}

// Snapshot builds the full-state message for the presentation.
func (c *Controller) Snapshot() link.Message {
	entry := func(d deck.ID) link.DeckSnapshot {
		s := c.state(d)
		return link.DeckSnapshot{
			TrackID:     s.TrackID,
			CurrentTime: s.CurrentTime,
			Volume:      s.Volume,
			Playing:     s.Playing,
		}
	}
	a, b := c.state(deck.A), c.state(deck.B)
	active := deck.A
	if b.Playing && !a.Playing {
		active = deck.B
	} else if a.Playing && b.Playing && b.Volume > a.Volume {
		active = deck.B
	}
	return link.Snapshot(entry(deck.A), entry(deck.B), active, c.crossfader, c.master)
}

func (c *Controller) sendSnapshot() {
	c.send(c.Snapshot())
}

// timeUpdate records presentation telemetry. Timing feeds display and
// auto-transition only; whether a deck should play stays the controller's
// decision. A report that the intended track ended is handled like a local
// ENDED notification.
func (c *Controller) timeUpdate(m link.Message) {
	if !c.connected || !m.Deck.Valid() {
		return
	}
	s := c.state(m.Deck)
	if !s.Loaded() || (m.TrackID != "" && m.TrackID != s.TrackID) {
		return
	}
	c.telemetry[m.Deck.Index()] = Telemetry{
		At:          c.sched.Now(),
		TrackID:     m.TrackID,
		CurrentTime: m.CurrentTime,
		Duration:    m.Duration,
		Playing:     m.Playing,
		Ended:       m.Ended,
	}
	s.SetTiming(m.CurrentTime, m.Duration)
	if m.Ended && s.Playing {
		c.ended(m.Deck)
	}
	c.changed()
}

// LastTelemetry returns the last telemetry received for d.
func (c *Controller) LastTelemetry(d deck.ID) Telemetry {
	if !d.Valid() {
		return Telemetry{}
	}
	return c.telemetry[d.Index()]
}

// OpenPresentation opens the presentation window, or closes it when a
// presentation is already connected.
func (c *Controller) OpenPresentation() error {
	if c.connected {
		c.ClosePresentation()
		return nil
	}
	if c.window == nil {
		return nil
	}
	return c.window.Open()
}

// ClosePresentation tells the presentation to close and takes playback
// back locally.
func (c *Controller) ClosePresentation() {
	if !c.connected {
		return
	}
	slog.Info("closing presentation")
	c.disconnect(true)
	if c.window != nil {
		if err := c.window.Close(); err != nil {
			slog.Warn("presentation window close failed", "error", err)
		}
	}
}

type restorePoint struct {
	track   string
	time    float64
	playing bool
}

// disconnect drops the presentation and reloads each deck locally at its
// last known position. Decks that were playing resume after RestoreDelay.
// A running crossfade carries on locally.
func (c *Controller) disconnect(notify bool) {
	var points [2]restorePoint
	for _, d := range deck.Both {
		s := c.state(d)
		points[d.Index()] = restorePoint{track: s.TrackID, time: s.CurrentTime, playing: s.Playing}
	}

	c.connected = false
	if notify {
		c.transmit(link.Close())
	}
	c.telemetry = [2]Telemetry{}

	for _, d := range deck.Both {
		if pt := points[d.Index()]; pt.track != "" {
			c.player(d).Cue(pt.track, pt.time)
		}
	}
	c.applyVolumes()

	if c.restore != nil {
		c.restore.Cancel()
	}
	c.restore = c.sched.After(RestoreDelay, func() {
		for _, d := range deck.Both {
			pt := points[d.Index()]
			p := c.player(d)
			if !pt.playing || c.connected || p.Loaded() != pt.track || c.state(d).TrackID != pt.track {
				continue
			}
			if p.State() == deck.Playing {
				continue
			}
			p.Play()
		}
	})
	c.changed()
}
