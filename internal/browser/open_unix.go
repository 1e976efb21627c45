//go:build !windows && !darwin

package browser

import (
	"os"
	"os/exec"
)

func open(url string) error {
	return exec.Command("xdg-open", url).Start()
}

// X11 sets $DISPLAY and Wayland sets $WAYLAND_DISPLAY; without either the
// host is headless.
func hasDisplay() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}
