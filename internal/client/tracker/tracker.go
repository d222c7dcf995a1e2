// Package tracker turns snapshots of the client's sync root into change sets by diffing
// them against the persisted known state.
package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/filesync/internal/ignore"
	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/syncmeta"
)

type Mode uint8

const (
	// ModeDelta reports new and modified files plus tombstones the server may not have seen.
	ModeDelta Mode = iota
	// ModeFull reports every tracked record, used to force a resynchronisation.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "delta"
}

// Tracker owns the in-memory known state for one round. Changes are only written to disk
// by Persist, which the session calls once the round has finished cleanly.
type Tracker struct {
	root      string
	statePath string
	ignore    *ignore.List
	state     *KnownState
	now       func() time.Time
}

// Open loads the known state. A corrupt state file is logged and replaced by an empty
// state, so the round behaves like a first sync.
func Open(root, statePath string, ignoreList *ignore.List) *Tracker {
	state, err := LoadState(statePath)
	if err != nil {
		slog.Warn("known state reset", "path", statePath, "error", err)
	}
	return &Tracker{
		root:      root,
		statePath: statePath,
		ignore:    ignoreList,
		state:     state,
		now:       time.Now,
	}
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	Changes   syncmeta.ChangeSet
	New       int
	Modified  int
	Deleted   int
	Unchanged int
}

// Scan walks the root and updates the known state with everything it finds. Files that
// disappeared since the last scan are tombstoned with the current time.
func (t *Tracker) Scan(mode Mode) (*ScanResult, error) {
	if t.ignore != nil {
		t.ignore.Load()
	}

	seen := make(map[string]struct{})
	res := &ScanResult{}
	lastSync := t.state.LastSync

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == t.root {
			return nil
		}

		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = syncmeta.NormPath(rel)

		if t.Ignored(rel) {
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
			// removed while walking; the deletion pass handles it
			return nil
		} else if err != nil {
			return err
		}

		seen[rel] = struct{}{}
		scanned := syncmeta.FromFileInfo(rel, info)
		known := t.state.Files[rel]

		switch {
		case known == nil:
			res.New++
		case scanned.ChangedFrom(known):
			res.Modified++
		default:
			res.Unchanged++
			if mode == ModeFull {
				res.Changes = append(res.Changes, known.Clone())
			}
			return nil
		}

		t.state.Files[rel] = scanned
		res.Changes = append(res.Changes, scanned.Clone())
		return nil
	})
	if err != nil {
		return nil, syncerr.Filesystem("scan "+t.root, err)
	}

	now := t.now().UTC()
	for rel, known := range t.state.Files {
		if _, ok := seen[rel]; ok || t.Ignored(rel) {
			continue
		}
		switch {
		case !known.Deleted:
			known.MarkDeleted(now)
			res.Deleted++
			res.Changes = append(res.Changes, known.Clone())
		case mode == ModeFull:
			res.Changes = append(res.Changes, known.Clone())
		case lastSync == nil || known.LastModified.After(*lastSync):
			// tombstone not yet acknowledged by a successful round
			res.Changes = append(res.Changes, known.Clone())
		}
	}

	res.Changes = res.Changes.Sorted()
	slog.Debug("scan", "mode", mode, "new", res.New, "modified", res.Modified,
		"deleted", res.Deleted, "unchanged", res.Unchanged, "sending", len(res.Changes))
	return res, nil
}

// Ignored reports whether rel is excluded by the root's ignore rules.
func (t *Tracker) Ignored(rel string) bool {
	return t.ignore != nil && t.ignore.ShouldIgnore(rel)
}

// Get returns a copy of the known record for rel, or nil.
func (t *Tracker) Get(rel string) *syncmeta.FileRecord {
	return t.state.Files[rel].Clone()
}

// Put records rec as in sync, typically after fetching it from the server.
func (t *Tracker) Put(rec *syncmeta.FileRecord) {
	t.state.Files[rec.RelativePath] = rec.Clone()
}

// Forget drops rel from the known state after a deletion was applied.
func (t *Tracker) Forget(rel string) {
	delete(t.state.Files, rel)
}

// Requeue makes the next scan report rel as modified again. Used for files the server
// asked for but never received, so a delta round offers them once more.
func (t *Tracker) Requeue(rel string) {
	if rec := t.state.Files[rel]; rec != nil && !rec.Deleted {
		rec.Size = -1
	}
}

func (t *Tracker) LastSync() (time.Time, bool) {
	if t.state.LastSync == nil {
		return time.Time{}, false
	}
	return *t.state.LastSync, true
}

// Counts returns the number of tracked live files and tombstones.
func (t *Tracker) Counts() (live, tombstones int) {
	return t.state.Counts()
}

// Complete stamps the round's completion time and prunes tombstones both peers have now
// converged on. It returns the number pruned.
func (t *Tracker) Complete(at time.Time) int {
	at = at.UTC()
	t.state.LastSync = &at
	return t.state.PruneTombstones(at)
}

// Persist writes the known state.
func (t *Tracker) Persist() error {
	return t.state.Save(t.statePath)
}
