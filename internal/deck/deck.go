// Package deck holds the per-deck building blocks shared by the controller
// and the presentation mirror: the two-valued deck identifier, the deck
// record, and the adapter around an opaque playback engine.
package deck

import (
	"errors"
	"fmt"
)

// ErrUnknownDeck is returned when a deck identifier is neither A nor B.
var ErrUnknownDeck = errors.New("unknown deck")

// ID identifies one of the two logical decks. The zero value is invalid so
// that a missing deck field in a decoded message is detectable.
type ID int

const (
	A ID = iota + 1
	B
)

// Both lists the decks in their canonical order.
var Both = [2]ID{A, B}

// Valid reports whether d is A or B.
func (d ID) Valid() bool { return d == A || d == B }

// Other returns the opposite deck.
func (d ID) Other() ID {
	switch d {
	case A:
		return B
	case B:
		return A
	}
	return d
}

// Index maps A→0 and B→1 for array-backed per-deck storage.
// It panics on an invalid deck; callers validate at the boundary.
func (d ID) Index() int {
	switch d {
	case A:
		return 0
	case B:
		return 1
	}
	panic(fmt.Sprintf("deck: index of invalid deck %d", int(d)))
}

func (d ID) String() string {
	switch d {
	case A:
		return "A"
	case B:
		return "B"
	}
	return fmt.Sprintf("deck(%d)", int(d))
}

// Parse converts "A"/"B" (case-insensitive) into an ID.
func Parse(s string) (ID, error) {
	switch s {
	case "A", "a":
		return A, nil
	case "B", "b":
		return B, nil
	}
	return 0, fmt.Errorf("deck: %q: %w", s, ErrUnknownDeck)
}

// MarshalText encodes the deck as "A" or "B".
func (d ID) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("deck: marshal %d: %w", int(d), ErrUnknownDeck)
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes "A" or "B"; anything else is an error.
func (d *ID) UnmarshalText(b []byte) error {
	id, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = id
	return nil
}
