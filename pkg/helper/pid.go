package helper

import (
	"os"
	"path/filepath"
)

// GetPIDPath returns the path to the PID file.
// Relative names resolve under the working directory when their parent exists,
// everything else falls back to /var/run/dalle-sse.pid.
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if filename != "" {
		if cwd, err := os.Getwd(); err == nil && cwd != "" {
			abs, err := filepath.Abs(filepath.Join(cwd, filename))
			if err == nil {
				if _, err := os.Stat(filepath.Dir(abs)); err == nil {
					return abs
				}
			}
		}
	}
	return "/var/run/dalle-sse.pid"
}
