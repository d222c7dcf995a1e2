package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/filesync/internal/ignore"
	"github.com/openmined/filesync/internal/server/store"
	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/syncmeta"
)

// diskView is the server's reconciled record set for one point in a session.
type diskView struct {
	records map[string]*syncmeta.FileRecord
}

func (v *diskView) Get(relPath string) *syncmeta.FileRecord {
	return v.records[relPath].Clone()
}

// List returns every record, tombstones included, ordered by path.
func (v *diskView) List() syncmeta.ChangeSet {
	out := make(syncmeta.ChangeSet, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, rec.Clone())
	}
	return out.Sorted()
}

// mergeDisk brings the stored records in line with what is on disk. Disk is authoritative
// for existence, size and mtime; the store is authoritative for tombstones.
func mergeDisk(ctx context.Context, root string, st store.MetadataStore, ig *ignore.List, now func() time.Time) (*diskView, error) {
	ig.Load()

	stored, err := st.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	view := &diskView{records: make(map[string]*syncmeta.FileRecord, len(stored))}
	storedLive := mapset.NewThreadUnsafeSet[string]()
	for _, rec := range stored {
		if ig.ShouldIgnore(rec.RelativePath) {
			continue
		}
		view.records[rec.RelativePath] = rec
		if !rec.Deleted {
			storedLive.Add(rec.RelativePath)
		}
	}

	onDisk := mapset.NewThreadUnsafeSet[string]()
	var created, updated, tombstoned int

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = syncmeta.NormPath(rel)

		if ig.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		onDisk.Add(rel)

		scanned := syncmeta.FromFileInfo(rel, info)
		update := diskUpdate(view.records[rel], scanned)
		if update == nil {
			return nil
		}
		if view.records[rel] == nil {
			created++
		} else {
			updated++
		}
		if err := st.UpsertFile(ctx, update); err != nil {
			return err
		}
		view.records[rel] = update
		return nil
	})
	if err != nil {
		return nil, syncerr.Filesystem("scan "+root, err)
	}

	stamp := now().UTC()
	for _, rel := range storedLive.Difference(onDisk).ToSlice() {
		tomb := view.records[rel].Clone()
		tomb.MarkDeleted(stamp)
		if err := st.UpsertFile(ctx, tomb); err != nil {
			return nil, err
		}
		view.records[rel] = tomb
		tombstoned++
	}

	if created+updated+tombstoned > 0 {
		slog.Debug("disk merge", "created", created, "updated", updated, "tombstoned", tombstoned)
	}
	return view, nil
}

// diskUpdate returns the record to store for a file found on disk, or nil when the stored
// record already describes it.
func diskUpdate(rec, scanned *syncmeta.FileRecord) *syncmeta.FileRecord {
	switch {
	case rec == nil:
		return scanned
	case rec.Deleted:
		// a file written after the deletion brings the path back
		if scanned.LastModified.After(rec.LastModified) {
			return scanned
		}
		return nil
	case scanned.LastModified.After(rec.LastModified) && !syncmeta.WithinTolerance(scanned.LastModified, rec.LastModified):
		scanned.Created = rec.Created
		return scanned
	case scanned.Size != rec.Size:
		fixed := rec.Clone()
		fixed.Size = scanned.Size
		return fixed
	default:
		return nil
	}
}
