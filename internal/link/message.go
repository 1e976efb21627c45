// Package link is the sync channel between the mixing console and a
// presentation peer: a best-effort, broadcast-style message link carrying
// discrete commands, full-state snapshots and timing telemetry.
//
// Nothing here assumes delivery. Every command is idempotent on the
// receiving side and a snapshot replaces all mirrored state, so a lost or
// duplicated message is repaired by the next snapshot.
package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jota2rz/dualdeck/internal/deck"
)

var (
	// ErrInvalidMessage wraps every decode or validation failure.
	ErrInvalidMessage = errors.New("invalid link message")
	// ErrClosed is returned by Send on a closed transport.
	ErrClosed = errors.New("link closed")
)

// Kind discriminates the message union.
type Kind string

const (
	// mirror → controller
	KindReady      Kind = "ready"
	KindResync     Kind = "resync-request"
	KindClosed     Kind = "closed"
	KindTimeUpdate Kind = "timeupdate"
	KindDuration   Kind = "duration"

	// controller → mirror
	KindClose        Kind = "close"
	KindLoad         Kind = "load"
	KindPlay         Kind = "play"
	KindPause        Kind = "pause"
	KindSeek         Kind = "seek"
	KindVolume       Kind = "volume"
	KindMasterVolume Kind = "masterVolume"
	KindCrossfader   Kind = "crossfader"
	KindSnapshot     Kind = "sync"
)

// DeckSnapshot is one deck's entry in a snapshot. A missing TrackID means
// the deck is empty.
type DeckSnapshot struct {
	TrackID     string  `json:"videoId,omitempty"`
	CurrentTime float64 `json:"currentTime"`
	Volume      int     `json:"volume"`
	Playing     bool    `json:"isPlaying"`
}

// Message is the wire envelope. Which payload fields are meaningful
// depends on Type; Validate checks the required ones.
type Message struct {
	Type   Kind   `json:"type"`
	ID     string `json:"id,omitempty"`
	Sender string `json:"sender,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`

	Deck      deck.ID  `json:"deck,omitempty"`
	TrackID   string   `json:"videoId,omitempty"`
	StartTime float64  `json:"startTime,omitempty"`
	Time      *float64 `json:"time,omitempty"`
	Volume    *int     `json:"volume,omitempty"`
	Level     *int     `json:"level,omitempty"` // computed effective output level
	Position  *int     `json:"position,omitempty"`

	CurrentTime float64 `json:"currentTime,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Playing     bool    `json:"isPlaying,omitempty"`
	Ended       bool    `json:"ended,omitempty"`

	DeckA              *DeckSnapshot `json:"deckA,omitempty"`
	DeckB              *DeckSnapshot `json:"deckB,omitempty"`
	ActiveDeck         deck.ID       `json:"activeDeck,omitempty"`
	CrossfaderPosition *int          `json:"crossfaderPosition,omitempty"`
	MasterVolume       *int          `json:"masterVolume,omitempty"`
}

// Validate reports whether m carries the fields its kind requires.
func (m Message) Validate() error {
	needDeck := func() error {
		if !m.Deck.Valid() {
			return fmt.Errorf("%w: %s without deck", ErrInvalidMessage, m.Type)
		}
		return nil
	}
	switch m.Type {
	case KindReady, KindResync, KindClosed, KindClose:
		return nil
	case KindPlay, KindPause, KindTimeUpdate:
		return needDeck()
	case KindLoad:
		if err := needDeck(); err != nil {
			return err
		}
		if m.TrackID == "" {
			return fmt.Errorf("%w: load without track", ErrInvalidMessage)
		}
	case KindSeek:
		if err := needDeck(); err != nil {
			return err
		}
		if m.Time == nil {
			return fmt.Errorf("%w: seek without time", ErrInvalidMessage)
		}
	case KindVolume:
		if err := needDeck(); err != nil {
			return err
		}
		if m.Volume == nil {
			return fmt.Errorf("%w: volume without level", ErrInvalidMessage)
		}
	case KindMasterVolume:
		if m.Volume == nil {
			return fmt.Errorf("%w: masterVolume without level", ErrInvalidMessage)
		}
	case KindCrossfader:
		if m.Position == nil {
			return fmt.Errorf("%w: crossfader without position", ErrInvalidMessage)
		}
	case KindDuration:
		if err := needDeck(); err != nil {
			return err
		}
		if m.Duration <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrInvalidMessage)
		}
	case KindSnapshot:
		if m.DeckA == nil || m.DeckB == nil {
			return fmt.Errorf("%w: sync without both decks", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// DeckEntry returns the snapshot entry for d.
func (m Message) DeckEntry(d deck.ID) *DeckSnapshot {
	if d == deck.B {
		return m.DeckB
	}
	return m.DeckA
}

// Encode marshals m to JSON.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("link: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode unmarshals and validates a message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func intp(v int) *int { return &v }

func Ready() Message  { return Message{Type: KindReady} }
func Resync() Message { return Message{Type: KindResync} }
func Closed() Message { return Message{Type: KindClosed} }
func Close() Message  { return Message{Type: KindClose} }

func Load(d deck.ID, trackID string, start float64) Message {
	return Message{Type: KindLoad, Deck: d, TrackID: trackID, StartTime: start}
}

func Play(d deck.ID) Message  { return Message{Type: KindPlay, Deck: d} }
func Pause(d deck.ID) Message { return Message{Type: KindPause, Deck: d} }

func Seek(d deck.ID, t float64) Message {
	return Message{Type: KindSeek, Deck: d, Time: &t}
}

// Volume carries the deck fader volume and the controller's computed
// effective level for that deck.
func Volume(d deck.ID, fader, level int) Message {
	return Message{Type: KindVolume, Deck: d, Volume: intp(fader), Level: intp(level)}
}

func MasterVolume(v int) Message {
	return Message{Type: KindMasterVolume, Volume: intp(v)}
}

func Crossfader(pos int) Message {
	return Message{Type: KindCrossfader, Position: intp(pos)}
}

// TimeUpdate reports playback timing of trackID on deck d.
func TimeUpdate(d deck.ID, trackID string, current, duration float64, playing, ended bool) Message {
	return Message{
		Type:        KindTimeUpdate,
		Deck:        d,
		TrackID:     trackID,
		CurrentTime: current,
		Duration:    duration,
		Playing:     playing,
		Ended:       ended,
	}
}

func DurationOf(d deck.ID, trackID string, duration float64) Message {
	return Message{Type: KindDuration, Deck: d, TrackID: trackID, Duration: duration}
}

func Snapshot(a, b DeckSnapshot, active deck.ID, crossfader, master int) Message {
	return Message{
		Type:               KindSnapshot,
		DeckA:              &a,
		DeckB:              &b,
		ActiveDeck:         active,
		CrossfaderPosition: intp(crossfader),
		MasterVolume:       intp(master),
	}
}
