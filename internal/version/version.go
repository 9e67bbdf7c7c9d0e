// Package version holds build-time identifiers, set via -ldflags in the
// release build, mirroring the version.Version/Commit/BuildDate trio the
// rest of the pack's CLIs report through `version`/`--version`.
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
