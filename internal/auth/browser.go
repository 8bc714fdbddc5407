package auth

import (
	"os/exec"
	"runtime"
)

// openBrowser opens url with the OS default browser. Each platform has a
// secondary mechanism tried when the first command fails.
func openBrowser(url string) error {
	var attempts [][]string
	switch runtime.GOOS {
	case "windows":
		attempts = [][]string{
			{"cmd", "/c", "start", "", url},
			{"rundll32", "url.dll,FileProtocolHandler", url},
		}
	case "darwin":
		attempts = [][]string{
			{"open", url},
			{"/usr/bin/open", url},
		}
	default:
		attempts = [][]string{
			{"xdg-open", url},
			{"sensible-browser", url},
		}
	}

	var err error
	for _, argv := range attempts {
		if err = exec.Command(argv[0], argv[1:]...).Start(); err == nil {
			return nil
		}
	}
	return err
}
