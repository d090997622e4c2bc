// Package version holds the relay's build information.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/peer-relay/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/peer-relay/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/peer-relay/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/relay
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information reported by the status endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats the build information for logs and -version output.
func String() string {
	return "peer-relay " + Version + " (" + Commit + ") built " + BuildTime
}
