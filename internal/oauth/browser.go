// System browser launcher, the popup-window analog.
package oauth

import (
	"errors"
	"os/exec"
	"runtime"
)

// openCommand is a test seam over exec.Command.
var openCommand = func(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

// OpenBrowser sends the user's default browser to rawURL. The process is
// detached; the flow observes completion only through the callback or poll.
func OpenBrowser(rawURL string) error {
	switch runtime.GOOS {
	case "darwin":
		return openCommand("open", rawURL)
	case "windows":
		return openCommand("rundll32", "url.dll,FileProtocolHandler", rawURL)
	case "linux":
		return openCommand("xdg-open", rawURL)
	default:
		return errors.New("unsupported platform for browser launch")
	}
}
