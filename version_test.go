package lucia

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionReportsBuildMetadata(t *testing.T) {
	info := GetVersion()

	assert.Equal(t, version, info.Version)
	assert.Equal(t, commit, info.Commit)
	assert.Equal(t, buildDate, info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestBuildInfoString(t *testing.T) {
	s := GetVersion().String()

	assert.Contains(t, s, "lucia ")
	assert.Contains(t, s, version)
	assert.Contains(t, s, commit)
}
