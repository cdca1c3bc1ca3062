package version

import (
	"runtime"
	"strings"
	"testing"
)

func setBuildInfo(t *testing.T, version, buildTime, commit string) {
	t.Helper()
	origVersion, origBuildTime, origCommit := Version, BuildTime, Commit
	t.Cleanup(func() {
		Version, BuildTime, Commit = origVersion, origBuildTime, origCommit
	})
	Version, BuildTime, Commit = version, buildTime, commit
}

func TestInfo(t *testing.T) {
	setBuildInfo(t, "1.0.0", "2026-01-01", "abcdef0123456789")

	info := Info()
	for _, want := range []string{"Cruise 1.0.0", "(abcdef01)", "2026-01-01", runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(info, want) {
			t.Errorf("Expected info to contain %q, got: %s", want, info)
		}
	}

	Commit = "abc123"
	if info := Info(); !strings.Contains(info, "(abc123)") {
		t.Errorf("Expected info to contain short commit as is, got: %s", info)
	}
}

func TestUserAgent(t *testing.T) {
	setBuildInfo(t, "1.2.0", "", "")
	if got := UserAgent(); got != "cruise-cli/1.2.0" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestMap(t *testing.T) {
	setBuildInfo(t, "1.0.0", "2026-01-01", "abcdef0123456789")

	m := Map()
	want := map[string]string{
		"version":   "1.0.0",
		"buildTime": "2026-01-01",
		"commit":    "abcdef0123456789",
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("Map()[%q] = %q, want %q", k, m[k], v)
		}
	}
	if !strings.HasPrefix(m["goVersion"], "go1.") {
		t.Errorf("Expected goVersion to start with go1., got: %s", m["goVersion"])
	}
}
