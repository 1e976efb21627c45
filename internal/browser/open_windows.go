//go:build windows

package browser

import "os/exec"

func open(url string) error {
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
}

// Even Server Core has a desktop; a missing browser surfaces as an error
// from open.
func hasDisplay() bool { return true }
