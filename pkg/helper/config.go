package helper

import (
	"os"
	"path/filepath"
)

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to /etc/dalle-sse/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range []string{".", "configs"} {
		if p := lookupInCwd(filepath.Join(dir, filename)); p != "" {
			return p
		}
	}
	return filepath.Join("/etc/dalle-sse", filename)
}

// CfgExists reports whether GetCfgPath resolves to an existing file
func CfgExists(filename string) bool {
	_, err := os.Stat(GetCfgPath(filename))
	return err == nil
}

func lookupInCwd(rel string) string {
	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return ""
	}
	candidate := filepath.Join(cwd, rel)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return ""
	}
	return abs
}
