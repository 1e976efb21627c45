// Package browser opens URLs in the user's default browser. It serves the
// console dashboard at startup and the presentation page as a second
// window.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDisplay is returned when no graphical session is detected.
var ErrNoDisplay = errors.New("browser: no display detected")

// Open launches the default browser at url. It returns immediately.
func Open(url string) error {
	if !hasDisplay() {
		return ErrNoDisplay
	}
	if err := open(url); err != nil {
		return fmt.Errorf("browser: open %s: %w", url, err)
	}
	return nil
}

// Window is a presentation surface shown as a browser window at URL.
// The page closes itself when the console sends it the close message, so
// Close has nothing to do.
type Window struct {
	URL string
}

// Open opens the presentation page.
func (w Window) Open() error {
	slog.Info("opening presentation window", "url", w.URL)
	return Open(w.URL)
}

// Close is a no-op; see Window.
func (w Window) Close() error { return nil }
