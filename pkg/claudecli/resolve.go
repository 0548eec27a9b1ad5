package claudecli

import (
	"os"
	"os/exec"
	"path/filepath"
)

// ResolveCLI resolves the claude binary to an absolute path: an executable
// absolute path is used as-is, a bare name is looked up on PATH, and
// otherwise well-known install locations are probed. When nothing matches
// the name is returned unchanged and the spawn fails later with a useful
// error.
func ResolveCLI(name string) string {
	if name == "" {
		name = "claude"
	}
	if filepath.IsAbs(name) {
		if isExecutableFile(name) {
			return name
		}
	} else if found, err := exec.LookPath(name); err == nil {
		return found
	}
	for _, candidate := range wellKnownCLIPaths() {
		if isExecutableFile(candidate) {
			return candidate
		}
	}
	return name
}

// ResolveGateBinary locates the approval-gate executable: an explicit
// configured path wins, then the directory of the running server binary,
// then PATH.
func ResolveGateBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "approval-gate")
		if isExecutableFile(candidate) {
			return candidate
		}
	}
	if found, err := exec.LookPath("approval-gate"); err == nil {
		return found
	}
	return "approval-gate"
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
