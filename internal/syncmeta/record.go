// Package syncmeta holds the file record exchanged between peers and persisted on both
// sides, together with path and timestamp helpers shared by client and server.
package syncmeta

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ModTimeTolerance absorbs precision lost by filesystems and serialisation when comparing
// a scanned file against its stored record.
const ModTimeTolerance = time.Second

var ErrInvalidPath = errors.New("invalid relative path")

// FileRecord describes one tracked path. A tombstone (Deleted) keeps the path and the time
// the deletion was first observed in LastModified.
type FileRecord struct {
	RelativePath string    `json:"RelativePath"`
	LastModified time.Time `json:"LastWriteTimeUtc"`
	Created      time.Time `json:"CreationTimeUtc"`
	Deleted      bool      `json:"IsDeleted"`
	Size         int64     `json:"Size"`
}

// FromFileInfo builds a live record for a scanned file. fs.FileInfo has no portable
// creation time, so Created is the mtime.
func FromFileInfo(relPath string, info fs.FileInfo) *FileRecord {
	mtime := info.ModTime().UTC()
	return &FileRecord{
		RelativePath: relPath,
		LastModified: mtime,
		Created:      mtime,
		Size:         info.Size(),
	}
}

// Tombstone returns a deleted record for relPath dated at.
func Tombstone(relPath string, at time.Time) *FileRecord {
	return &FileRecord{
		RelativePath: relPath,
		LastModified: at.UTC(),
		Created:      at.UTC(),
		Deleted:      true,
	}
}

func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// MarkDeleted turns r into a tombstone dated at.
func (r *FileRecord) MarkDeleted(at time.Time) {
	r.Deleted = true
	r.LastModified = at.UTC()
	r.Size = 0
}

// ChangedFrom reports whether a live scan result differs from the stored record beyond
// ModTimeTolerance or in size.
func (r *FileRecord) ChangedFrom(stored *FileRecord) bool {
	if stored == nil || stored.Deleted {
		return true
	}
	if r.Size != stored.Size {
		return true
	}
	return !WithinTolerance(r.LastModified, stored.LastModified)
}

func (r *FileRecord) String() string {
	state := "live"
	if r.Deleted {
		state = "deleted"
	}
	return fmt.Sprintf("%s(%s @ %s, %d bytes)", r.RelativePath, state, r.LastModified.Format(time.RFC3339), r.Size)
}

func WithinTolerance(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= ModTimeTolerance
}

// NormPath converts an OS relative path into the forward-slash form used on the wire.
func NormPath(relPath string) string {
	p := filepath.ToSlash(filepath.Clean(relPath))
	return strings.TrimPrefix(p, "./")
}

// ValidatePath checks that a wire path stays inside the root it will be joined to.
func ValidatePath(relPath string) error {
	if relPath == "" || strings.ContainsRune(relPath, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	if strings.HasPrefix(relPath, "/") || strings.Contains(relPath, `\`) || filepath.IsAbs(relPath) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, relPath)
	}
	clean := path.Clean(relPath)
	if clean != relPath || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return nil
}

// LocalPath resolves a validated wire path under root.
func LocalPath(root, relPath string) (string, error) {
	if err := ValidatePath(relPath); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(relPath)), nil
}
