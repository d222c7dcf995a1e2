package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileWithModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stamped.bin")
	modTime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	require.NoError(t, WriteFileWithModTime(path, []byte{1, 2, 3}, modTime))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Size())
	assert.True(t, info.ModTime().Equal(modTime), "got %s", info.ModTime())
}

func TestWriteFileWithModTime_NeverVisibleWithOtherMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.txt")
	oldTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newTime := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteFileWithModTime(path, []byte("old"), oldTime))

	done := make(chan struct{})
	seen := make(chan time.Time, 1)
	go func() {
		defer close(seen)
		for {
			select {
			case <-done:
				return
			default:
			}
			if info, err := os.Stat(path); err == nil {
				mt := info.ModTime()
				if !mt.Equal(oldTime) && !mt.Equal(newTime) {
					seen <- mt
					return
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		stamp := newTime
		if i%2 == 1 {
			stamp = oldTime
		}
		require.NoError(t, WriteFileWithModTime(path, []byte("new"), stamp))
	}
	close(done)

	for mt := range seen {
		t.Fatalf("observed mtime %s outside the requested stamps", mt)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoveFile_MissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, RemoveFile(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, RemoveFile(path))
	assert.False(t, FileExists(path))
}
