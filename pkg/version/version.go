// Package version holds build information set through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
)

// UserAgent is sent with every outgoing HTTP request.
func UserAgent(goos, goarch string) string {
	return fmt.Sprintf("agentcall/%s (%s; %s)", Version, goos, goarch)
}
