package util

import (
	"os"
	"os/exec"
	"path/filepath"
)

// ResolveCaptureBinary returns the path to the capture subprocess binary.
// If customPath is set, it is validated and returned. Otherwise the binary
// is looked for next to the running executable first, then in PATH.
// Returns an empty string if the binary cannot be found.
func ResolveCaptureBinary(customPath, name string) string {
	if customPath != "" {
		if _, err := os.Stat(customPath); err == nil {
			return customPath
		}
		return ""
	}

	if execPath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(execPath), name)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
