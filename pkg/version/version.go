// Package version holds the build information of the Cruise binaries.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X github.com/rzbill/cruise/pkg/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

func shortCommit() string {
	if len(Commit) > 8 {
		return Commit[:8]
	}
	return Commit
}

// Info returns version information as a formatted string.
func Info() string {
	return fmt.Sprintf("Cruise %s (%s) - %s %s/%s",
		Version, shortCommit(), BuildTime, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the CLI to the server, e.g. "cruise-cli/1.2.0".
func UserAgent() string {
	return "cruise-cli/" + Version
}

// Map returns version information as served by /api/version.
func Map() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
}
