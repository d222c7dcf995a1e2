package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/syncmeta"
	"github.com/openmined/filesync/internal/utils"
)

// KnownState is what the client believes is in sync with the server. LastSync is nil
// until the first successful round.
type KnownState struct {
	Files    map[string]*syncmeta.FileRecord `json:"KnownFiles"`
	LastSync *time.Time                      `json:"LastSync"`
}

func NewKnownState() *KnownState {
	return &KnownState{Files: make(map[string]*syncmeta.FileRecord)}
}

// LoadState reads the persisted state at path. A missing file yields an empty state; an
// unreadable or corrupt one is reported as a state error together with an empty state,
// so the caller can log it and carry on with a first-sync round.
func LoadState(path string) (*KnownState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewKnownState(), nil
	}
	if err != nil {
		return NewKnownState(), syncerr.State("read known state", err)
	}

	state := NewKnownState()
	if err := json.Unmarshal(data, state); err != nil {
		return NewKnownState(), syncerr.State("decode known state", err)
	}
	if state.Files == nil {
		state.Files = make(map[string]*syncmeta.FileRecord)
	}

	for key, rec := range state.Files {
		if rec == nil || syncmeta.ValidatePath(key) != nil {
			slog.Warn("known state: dropping invalid entry", "path", key)
			delete(state.Files, key)
			continue
		}
		rec.RelativePath = key
		rec.LastModified = rec.LastModified.UTC()
		rec.Created = rec.Created.UTC()
	}
	if state.LastSync != nil {
		utc := state.LastSync.UTC()
		state.LastSync = &utc
	}
	return state, nil
}

// Save replaces the file at path in one step.
func (s *KnownState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode known state: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write known state: %w", err)
	}
	return nil
}

// PruneTombstones drops tombstones dated at or before cutoff and returns how many went.
func (s *KnownState) PruneTombstones(cutoff time.Time) int {
	pruned := 0
	for key, rec := range s.Files {
		if rec.Deleted && !rec.LastModified.After(cutoff) {
			delete(s.Files, key)
			pruned++
		}
	}
	return pruned
}

func (s *KnownState) Counts() (live, tombstones int) {
	for _, rec := range s.Files {
		if rec.Deleted {
			tombstones++
		} else {
			live++
		}
	}
	return live, tombstones
}
