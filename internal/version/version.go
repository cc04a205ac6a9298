package version

// Set at build time via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Full returns the release and commit, e.g. "v0.3.0-abc1234".
func Full() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return Release
	}

	return Release + "-" + GitCommit
}
