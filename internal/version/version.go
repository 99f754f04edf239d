// Package version carries build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the version in the "version (sha)" form used by the
// discovery beacon and the status API.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
