package syncmeta

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"foo.txt", true},
		{"dir/sub/file.bin", true},
		{"", false},
		{"/etc/passwd", false},
		{"../outside", false},
		{"a/../../outside", false},
		{"a/./b", false},
		{"a//b", false},
		{`a\b`, false},
		{"..", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidPath), "got %v", err)
			}
		})
	}
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b/c.txt", NormPath("./a/b/../b/c.txt"))
	assert.Equal(t, "c.txt", NormPath("c.txt"))
}

func TestChangedFrom(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	stored := &FileRecord{RelativePath: "a", LastModified: base, Size: 10}

	tests := []struct {
		name    string
		scanned *FileRecord
		changed bool
	}{
		{"identical", &FileRecord{LastModified: base, Size: 10}, false},
		{"sub-second drift", &FileRecord{LastModified: base.Add(900 * time.Millisecond), Size: 10}, false},
		{"exactly one second", &FileRecord{LastModified: base.Add(-time.Second), Size: 10}, false},
		{"beyond tolerance", &FileRecord{LastModified: base.Add(1500 * time.Millisecond), Size: 10}, true},
		{"size differs", &FileRecord{LastModified: base, Size: 11}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.changed, tt.scanned.ChangedFrom(stored))
		})
	}

	assert.True(t, stored.ChangedFrom(nil))
	assert.True(t, stored.ChangedFrom(Tombstone("a", base)))
}

func TestChangeSet_WireShape(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	set := ChangeSet{
		{RelativePath: "foo.txt", LastModified: ts, Created: ts, Size: 10},
		Tombstone("gone.txt", ts),
	}

	data, err := set.Marshal()
	require.NoError(t, err)
	s := string(data)
	for _, key := range []string{`"RelativePath":"foo.txt"`, `"LastWriteTimeUtc":"2025-03-04T05:06:07Z"`, `"CreationTimeUtc"`, `"IsDeleted":true`, `"Size":10`} {
		assert.True(t, strings.Contains(s, key), "missing %s in %s", key, s)
	}

	empty, err := ChangeSet(nil).Marshal()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestUnmarshalChangeSet(t *testing.T) {
	payload := `[{"RelativePath":"docs/a.md","LastWriteTimeUtc":"2025-03-04T07:06:07.1234567+02:00","CreationTimeUtc":"2025-03-04T05:06:07Z","IsDeleted":false,"Size":3}]`
	set, err := UnmarshalChangeSet([]byte(payload))
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, time.UTC, set[0].LastModified.Location())
	assert.Equal(t, 5, set[0].LastModified.Hour())

	_, err = UnmarshalChangeSet([]byte(`[{"RelativePath":"../x"}]`))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = UnmarshalChangeSet([]byte(`{not json`))
	assert.Error(t, err)

	set, err = UnmarshalChangeSet(nil)
	require.NoError(t, err)
	assert.Empty(t, set)
}
