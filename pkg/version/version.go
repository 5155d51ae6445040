package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Version is the release of the binary, read from the embedded VERSION file
var Version = strings.TrimSpace(raw)

// Get returns the current version of the application
func Get() string {
	return Version
}

// Semver returns the version without its leading "v", as MCP serverInfo expects
func Semver() string {
	return strings.TrimPrefix(Version, "v")
}
