package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/filesync/internal/utils"
)

const (
	metadataDir = ".filesync"
	lockFile    = "filesync.lock"
	stateFile   = "state.json"
)

var ErrWorkspaceLocked = errors.New("sync root locked by another process")

// Workspace is the client's sync root plus the bookkeeping directory inside it.
type Workspace struct {
	Root        string
	MetadataDir string
	StatePath   string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		MetadataDir: metaDir,
		StatePath:   filepath.Join(metaDir, stateFile),
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// Setup creates the root and takes the process lock so two sync rounds never race on
// the same directory.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.Root, w.MetadataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := w.Lock(); err != nil {
		return err
	}
	slog.Debug("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
