// Package version holds build metadata stamped in via -ldflags.
package version

// These are overridden at build time, e.g.:
//
//	go build -ldflags "-X github.com/cfc-ptrace/cfc-ptrace/pkg/version.Version=v0.3.0"
var (
	Version   = "dev"
	GitCommit = "none"
	BuildTime = "unknown"
)
