// Package version provides build version information for genforge.
// These variables are set at build time via ldflags.
package version

import (
	promversion "github.com/prometheus/common/version"
)

// Build information variables.
// Example: go build -ldflags "-X genforge/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version (e.g., "v1.2.3" or "dev" for development builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// Publish copies the build information into the Prometheus version package so
// the build-info metric and Print report it.
func Publish() {
	promversion.Version = Version
	promversion.Revision = Commit
	promversion.BuildDate = Date
}

// Print returns the multi-line version report for program.
func Print(program string) string {
	Publish()
	return promversion.Print(program)
}

// Info returns a one-line summary.
func Info() string {
	Publish()
	return promversion.Info()
}
