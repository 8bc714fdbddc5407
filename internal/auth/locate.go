package auth

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const authToolName = "cowork-auth"

// locateAuthTool resolves the local helper binary used by the login call.
// Fixed install locations are checked first, then PATH.
func locateAuthTool() (string, bool) {
	for _, candidate := range candidatePaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	if path, err := exec.LookPath(authToolName); err == nil {
		return path, true
	}
	return "", false
}

func candidatePaths() []string {
	home, _ := os.UserHomeDir()
	name := authToolName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	candidates := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/cowork/bin", name),
	}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".local", "bin", name),
			filepath.Join(home, ".cowork", "bin", name),
		)
	}
	return candidates
}
