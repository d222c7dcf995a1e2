package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.Contains(t, Short(), Version)
	assert.Contains(t, Short(), Revision)
	assert.Contains(t, Detailed(), "/")
	assert.True(t, strings.HasPrefix(DetailedWithApp(), AppName+" "))
}

func TestApplyBuildInfo(t *testing.T) {
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})

	t.Run("fills defaults", func(t *testing.T) {
		Version, Revision, BuildDate = devVersion, "HEAD", ""
		applyBuildInfo("v2.3.4", map[string]string{
			"vcs.revision": "0123456789abcdef",
			"vcs.modified": "true",
			"vcs.time":     "2026-01-02T03:04:05Z",
		})
		assert.Equal(t, "2.3.4", Version)
		assert.Equal(t, "0123456789ab-dirty", Revision)
		assert.Equal(t, "2026-01-02T03:04:05Z", BuildDate)
	})

	t.Run("keeps ldflags", func(t *testing.T) {
		Version, Revision, BuildDate = "1.0.0", "cafe", "release"
		applyBuildInfo("v2.3.4", map[string]string{"vcs.revision": "beef", "vcs.time": "x"})
		assert.Equal(t, "1.0.0", Version)
		assert.Equal(t, "cafe", Revision)
		assert.Equal(t, "release", BuildDate)
	})
}
