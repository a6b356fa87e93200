// Package version holds build metadata injected via ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata in one field for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, Date)
}
