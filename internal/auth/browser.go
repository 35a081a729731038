package auth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserFunc opens url for the user. It returns once the browser has been
// launched, not when the page is closed.
type BrowserFunc func(url string) error

// OpenBrowser opens url in the default web browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	// reap the launcher so it does not linger as a zombie
	go func() { _ = cmd.Wait() }()
	return nil
}
