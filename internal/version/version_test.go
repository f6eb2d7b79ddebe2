package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuild(t *testing.T, version, commit string) {
	t.Helper()
	origVersion, origCommit, origStamp := Version, Commit, readStamp()
	t.Cleanup(func() {
		Version, Commit = origVersion, origCommit
		stamp = origStamp
	})
	Version, Commit = version, commit
	stamp = vcsStamp{}
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"go_version"`)
}

func TestGetInfo_FallsBackToVCSStamp(t *testing.T) {
	withBuild(t, "dev", unknown)
	stamp = vcsStamp{revision: "0123456789abcdef", time: "2026-01-02T03:04:05Z", modified: true}

	info := GetInfo()
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.True(t, info.Modified)
	assert.Equal(t, "dev (01234567-dirty)", Short())
}

func TestGetInfo_LdflagsWin(t *testing.T) {
	withBuild(t, "1.2.0", "feedfacecafebeef")
	stamp = vcsStamp{revision: "0123456789abcdef", modified: true}

	info := GetInfo()
	assert.Equal(t, "feedfacecafebeef", info.Commit)
	assert.False(t, info.Modified)
}

func TestString(t *testing.T) {
	withBuild(t, "0.3.1", unknown)
	s := String()
	assert.True(t, strings.HasPrefix(s, "vertd 0.3.1 ("), s)
	assert.NotContains(t, s, "commit")

	withBuild(t, "0.3.1", "0123456789abcdef")
	assert.Contains(t, String(), "commit 01234567,")
}

func TestShort(t *testing.T) {
	withBuild(t, "1.0.0", unknown)
	assert.Equal(t, "1.0.0", Short())

	withBuild(t, "1.0.0", "deadbeefcafe")
	assert.Equal(t, "1.0.0 (deadbeef)", Short())
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "2.1.0", unknown)
	assert.Equal(t, "vertd/2.1.0", UserAgent())
}
