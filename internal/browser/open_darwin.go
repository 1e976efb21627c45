//go:build darwin

package browser

import "os/exec"

func open(url string) error {
	return exec.Command("open", url).Start()
}

// A macOS login session always has a window server.
func hasDisplay() bool { return true }
