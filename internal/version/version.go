// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String is the one-line build summary printed by fxmon version.
func String() string {
	return fmt.Sprintf("fxmon %s (commit %s, built %s)", Version, Commit, BuildDate)
}
