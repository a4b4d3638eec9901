// Package version holds build-time identifiers, overridden via -ldflags.
package version

var (
	// Version is the semantic version of this build, set via -ldflags.
	Version = "dev"
	// Commit is the git commit SHA this build was produced from.
	Commit = "unknown"
)
