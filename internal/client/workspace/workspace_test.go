package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceSetup_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sync")

	w, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, w.Setup())
	t.Cleanup(func() { _ = w.Unlock() })

	assert.DirExists(t, w.Root)
	assert.DirExists(t, w.MetadataDir)
	assert.Equal(t, filepath.Join(root, ".filesync", "state.json"), w.StatePath)
}

func TestWorkspaceLocking_SingleInstance(t *testing.T) {
	root := t.TempDir()

	w1, err := NewWorkspace(root)
	require.NoError(t, err)
	w2, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, w1.Setup())
	assert.ErrorIs(t, w2.Setup(), ErrWorkspaceLocked)

	require.NoError(t, w1.Unlock())
	require.NoError(t, w2.Setup())
	require.NoError(t, w2.Unlock())

	// unlocking twice is harmless
	require.NoError(t, w2.Unlock())
}
