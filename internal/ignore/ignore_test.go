package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Defaults(t *testing.T) {
	l, err := New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	l.Load()

	assert.True(t, l.ShouldIgnore(".filesync/state.json"))
	assert.True(t, l.ShouldIgnore("docs/.DS_Store"))
	assert.True(t, l.ShouldIgnore("a/.b.txt.123.tmp"))
	assert.True(t, l.ShouldIgnore(FileName))
	assert.True(t, l.ShouldIgnore("sub/"+FileName))
	assert.False(t, l.ShouldIgnore("docs/readme.md"))
}

func TestList_RulesFileAndExcludes(t *testing.T) {
	dir := t.TempDir()
	rules := "# build output\nbuild/\n\n*.log\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(rules), 0o644))

	l, err := New(dir, []string{"server.lock"}, []string{"cache/**", "**/*.bak"})
	require.NoError(t, err)
	l.Load()

	assert.True(t, l.ShouldIgnore("build/out.bin"))
	assert.True(t, l.ShouldIgnore("logs/app.log"))
	assert.True(t, l.ShouldIgnore("server.lock"))
	assert.True(t, l.ShouldIgnore("cache/a/b.dat"))
	assert.True(t, l.ShouldIgnore("deep/dir/file.bak"))
	assert.False(t, l.ShouldIgnore("src/main.go"))
}

func TestNew_RejectsBadPattern(t *testing.T) {
	_, err := New(t.TempDir(), nil, []string{"[unterminated"})
	assert.Error(t, err)
}
