// Package version reports build information.
package version

// Version information set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Info is the build information served by the API.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get returns the build information.
func Get() Info {
	return Info{Version: version, Commit: commit, Date: date}
}

// BuildInfo returns detailed build information
func BuildInfo() string {
	return "Version: " + version + "\nCommit: " + commit + "\nBuild Date: " + date
}
