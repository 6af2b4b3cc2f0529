// Package version carries build metadata for the hotspot binaries.
package version

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/davytheprogrammer/hotspot-manager/pkg/version.Version=v0.3.0 \
//	  -X github.com/davytheprogrammer/hotspot-manager/pkg/version.GitCommit=abc1234 \
//	  -X github.com/davytheprogrammer/hotspot-manager/pkg/version.BuildDate=2026-01-01T00:00:00Z"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string for display.
func Info() string {
	return Version + " (" + GitCommit + ") built " + BuildDate
}

// UserAgent identifies the daemon in control API responses.
func UserAgent() string {
	return "hotspotd/" + Version
}
