package mixer

import (
	"log/slog"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/models"
)

// LoadVideo puts t on deck d and starts it. Loading the track already on
// the deck seeks it to the start instead of reloading.
func (c *Controller) LoadVideo(d deck.ID, t models.Track) {
	if !d.Valid() || t.ID == "" {
		return
	}
	s := c.state(d)
	s.SetTrack(t.ID, t.Title, t.Duration)
	s.Status = deck.StatusBuffering
	slog.Info("deck load", "deck", d, "track", t.ID)

	if c.connected {
		c.send(link.Load(d, t.ID, 0))
		c.started(d)
	} else {
		c.player(d).Load(t.ID, 0)
		if c.player(d).State() == deck.Playing {
			c.started(d)
		}
	}
	c.changed()
}

// CueVideo puts t on deck d without starting it.
func (c *Controller) CueVideo(d deck.ID, t models.Track) {
	if !d.Valid() || t.ID == "" {
		return
	}
	s := c.state(d)
	s.SetTrack(t.ID, t.Title, t.Duration)
	s.Status = deck.StatusCued
	slog.Info("deck cue", "deck", d, "track", t.ID)

	if c.connected {
		c.send(link.Load(d, t.ID, 0))
		c.send(link.Pause(d))
	} else {
		c.player(d).Cue(t.ID, 0)
	}
	c.changed()
}

// PlayDeck toggles d between playing and paused.
func (c *Controller) PlayDeck(d deck.ID) {
	if !d.Valid() {
		return
	}
	if c.state(d).Playing {
		c.PauseDeck(d)
		return
	}
	if !c.state(d).Loaded() {
		return
	}
	if c.connected {
		c.send(link.Play(d))
	} else {
		if !c.player(d).Ready() {
			return
		}
		c.player(d).Play()
	}
	c.started(d)
	c.changed()
}

// PauseDeck pauses d.
func (c *Controller) PauseDeck(d deck.ID) {
	if !d.Valid() {
		return
	}
	if c.connected {
		c.send(link.Pause(d))
	} else {
		c.player(d).Pause()
	}
	s := c.state(d)
	s.SetPlaying(false)
	if s.Loaded() {
		s.Status = deck.StatusPaused
	}
	c.changed()
}

// StopDeck stops d and rewinds it.
func (c *Controller) StopDeck(d deck.ID) {
	if !d.Valid() {
		return
	}
	if c.connected {
		c.send(link.Pause(d))
		c.send(link.Seek(d, 0))
	} else {
		c.player(d).Stop()
	}
	s := c.state(d)
	s.SetPlaying(false)
	s.SetTiming(0, 0)
	if s.Loaded() {
		s.Status = deck.StatusStopped
	}
	c.changed()
}

// CueDeck returns d to the start and pauses it.
func (c *Controller) CueDeck(d deck.ID) {
	if !d.Valid() {
		return
	}
	if c.connected {
		c.send(link.Seek(d, 0))
		c.send(link.Pause(d))
	} else {
		c.player(d).Seek(0)
		c.player(d).Pause()
	}
	s := c.state(d)
	s.SetPlaying(false)
	s.SetTiming(0, 0)
	if s.Loaded() {
		s.Status = deck.StatusCued
	}
	c.changed()
}

// Seek moves d to t seconds.
func (c *Controller) Seek(d deck.ID, t float64) {
	if !d.Valid() || !c.state(d).Loaded() {
		return
	}
	if t < 0 {
		t = 0
	}
	if c.connected {
		c.send(link.Seek(d, t))
	} else {
		c.player(d).Seek(t)
	}
	c.state(d).SetTiming(t, 0)
	c.changed()
}

// SeekFromWaveform seeks d to fraction (0-1) of its duration. Nothing
// happens while the duration is unknown.
func (c *Controller) SeekFromWaveform(d deck.ID, fraction float64) {
	if !d.Valid() {
		return
	}
	duration := c.state(d).Duration
	if duration <= 0 && !c.connected {
		_, duration = c.player(d).Timing()
	}
	if duration <= 0 {
		return
	}
	fraction = max(0, min(1, fraction))
	c.Seek(d, duration*fraction)
}

// started records that d began playing: it becomes the active deck and,
// on a fresh start, the playlist cursor follows its track.
func (c *Controller) started(d deck.ID) {
	s := c.state(d)
	was := s.Playing
	s.SetPlaying(true)
	if !s.Playing {
		return
	}
	s.Status = deck.StatusPlaying
	c.active = d
	if !was && c.playlist != nil {
		c.playlist.Focus(s.TrackID)
	}
}

// HandleEngineReady is called when the local engine of d becomes ready.
func (c *Controller) HandleEngineReady(d deck.ID) {
	if !d.Valid() {
		return
	}
	slog.Debug("engine ready", "deck", d)
	c.applyVolumes()
}

// HandleEngineState is the state-change notification of the local engine
// of d.
func (c *Controller) HandleEngineState(d deck.ID, st deck.EngineState) {
	if !d.Valid() || c.connected {
		return
	}
	s := c.state(d)
	slog.Debug("engine state", "deck", d, "state", st)
	if (st == deck.Playing || st == deck.Paused) && c.player(d).State() != st {
		// The engine has moved on since this was queued.
		return
	}
	switch st {
	case deck.Playing:
		c.started(d)
	case deck.Paused:
		s.SetPlaying(false)
		// An explicit cue or stop pauses the engine too; keep that status.
		if s.Loaded() && s.Status != deck.StatusCued && s.Status != deck.StatusStopped {
			s.Status = deck.StatusPaused
		}
	case deck.Buffering:
		if s.Loaded() {
			s.Status = deck.StatusBuffering
		}
	case deck.Cued:
		if s.Loaded() && s.Status != deck.StatusStopped {
			s.Status = deck.StatusCued
		}
	case deck.Ended:
		c.ended(d)
	default:
		return
	}
	c.changed()
}

// ended handles the end of the track on d. With auto-mix on and no
// crossfade running, the upcoming playlist entry is loaded directly.
func (c *Controller) ended(d deck.ID) {
	s := c.state(d)
	s.SetPlaying(false)
	if s.Loaded() {
		s.Status = deck.StatusEnded
	}
	slog.Info("deck ended", "deck", d, "track", s.TrackID)
	if c.autoMix && !c.crossfading {
		c.loadUpcoming(d, true)
	}
}

// loadUpcoming puts the upcoming playlist entry on d, started or cued.
func (c *Controller) loadUpcoming(d deck.ID, play bool) bool {
	if c.playlist == nil {
		return false
	}
	t, ok := c.playlist.Upcoming()
	if !ok {
		return false
	}
	if play {
		c.LoadVideo(d, t)
	} else {
		c.CueVideo(d, t)
	}
	return true
}

// Enqueued prepares the decks after the playlist grew to length entries,
// t being the new one: the first entry is cued on A when nothing is
// playing, and the second is cued on B unless B is on air.
func (c *Controller) Enqueued(length int, t models.Track) {
	a, b := c.state(deck.A), c.state(deck.B)
	switch {
	case length == 1 && !a.Playing && !b.Playing:
		c.CueVideo(deck.A, t)
	case length == 2 && !b.Playing:
		c.CueVideo(deck.B, t)
	}
}

// PreloadUpcoming cues the upcoming playlist entry on the deck that is not
// playing, A when neither is.
func (c *Controller) PreloadUpcoming() {
	d := deck.A
	if c.state(deck.A).Playing {
		d = deck.B
	}
	if c.state(d).Playing {
		return
	}
	c.loadUpcoming(d, false)
}
