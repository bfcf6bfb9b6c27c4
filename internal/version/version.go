// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release of the engine.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns a one-line build description.
func String() string {
	return fmt.Sprintf("csb-create %s (%s, built %s)", Version, GitSHA, BuildTime)
}
