package mixer

import (
	"math"

	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/link"
)

// EffectiveVolume is the output level of deck d for the given fader volume,
// master volume and crossfader position (0 = full A, 100 = full B).
//
//	A: round(volume × master/100 × (1 − position/100))
//	B: round(volume × master/100 × position/100)
func EffectiveVolume(d deck.ID, volume, master, position int) int {
	volume = deck.ClampLevel(volume)
	master = deck.ClampLevel(master)
	position = deck.ClampLevel(position)

	mult := float64(position) / 100
	if d == deck.A {
		mult = 1 - mult
	}
	return int(math.Round(float64(volume) * (float64(master) / 100) * mult))
}

// Opacity is the cross-dissolve weight of deck d at crossfader position.
func Opacity(d deck.ID, position int) float64 {
	p := float64(deck.ClampLevel(position)) / 100
	if d == deck.A {
		return 1 - p
	}
	return p
}

// effective returns the computed output level for d.
func (c *Controller) effective(d deck.ID) int {
	return EffectiveVolume(d, c.decks[d.Index()].Volume, c.master, c.crossfader)
}

// applyVolumes recomputes both decks' output. Local engines are muted while
// a presentation peer is connected; the peer always gets the computed level.
func (c *Controller) applyVolumes() {
	for _, d := range deck.Both {
		level := c.effective(d)
		if c.connected {
			c.players[d.Index()].SetVolume(0)
		} else {
			c.players[d.Index()].SetVolume(level)
		}
		c.send(link.Volume(d, c.decks[d.Index()].Volume, level))
	}
}

// SetCrossfader moves the crossfader to pos (clamped to 0-100).
func (c *Controller) SetCrossfader(pos int) {
	c.crossfader = deck.ClampLevel(pos)
	c.applyVolumes()
	c.send(link.Crossfader(c.crossfader))
	c.changed()
}

// SetDeckVolume sets the fader volume of d.
func (c *Controller) SetDeckVolume(d deck.ID, v int) {
	if !d.Valid() {
		return
	}
	c.decks[d.Index()].SetVolume(v)
	c.applyVolumes()
	c.changed()
}

// SetMasterVolume sets the master volume.
func (c *Controller) SetMasterVolume(v int) {
	c.master = deck.ClampLevel(v)
	c.applyVolumes()
	c.send(link.MasterVolume(c.master))
	c.changed()
}
