// Package version holds the broker's build-time identity: a semantic
// version (persisted via the state store's agent_version claim), plus
// commit and build date for diagnostics. Values are set by -ldflags at
// build time.
package version

import "fmt"

var (
	// Version is the broker's semantic version, overridden via
	// -ldflags "-X github.com/fossas/broker/internal/version.Version=1.2.3".
	Version = "0.0.0-dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders "name version (commit: x, built: y)" for --version output.
func String(name string) string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", name, Version, Commit, Date)
}
