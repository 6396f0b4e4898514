// Package lucia carries the build metadata stamped into release
// binaries.
package lucia

import (
	"fmt"
	"runtime"
)

// Overridden at release time:
//
//	go build -ldflags "\
//	  -X github.com/lucia-ai/lucia.version=v0.2.0 \
//	  -X github.com/lucia-ai/lucia.commit=$(git rev-parse --short HEAD) \
//	  -X github.com/lucia-ai/lucia.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetVersion reports the binary's build metadata.
func GetVersion() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("lucia %s (commit %s, built %s, %s, %s)",
		b.Version, b.Commit, b.BuildDate, b.GoVersion, b.Platform)
}
