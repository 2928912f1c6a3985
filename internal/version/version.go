package version

var (
	// Version is the current application version. The build system
	// overrides it via ldflags; "dev" marks untagged local builds.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
