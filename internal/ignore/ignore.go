// Package ignore decides which paths under a sync root are never tracked.
package ignore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-root rules file, in .gitignore syntax.
const FileName = ".filesyncignore"

var defaultIgnoreLines = []string{
	// our own bookkeeping; rules files stay local to each peer
	".filesync/",
	FileName,
	// editors and OS
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*~",
	// partially written files
	"*.tmp",
	"*.part",
}

// List combines gitignore rules (defaults plus the root's rules file) with doublestar
// glob excludes supplied by configuration. It is safe for concurrent use.
type List struct {
	baseDir  string
	extra    []string
	excludes []string

	mu     sync.RWMutex
	ignore *gitignore.GitIgnore
}

// New builds a list for baseDir. extra are gitignore lines always applied; excludes are
// doublestar patterns matched against the slash-separated relative path.
func New(baseDir string, extra []string, excludes []string) (*List, error) {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return &List{baseDir: baseDir, extra: extra, excludes: excludes}, nil
}

// Load compiles the rules, re-reading the rules file so edits apply to the next scan.
func (l *List) Load() {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, l.extra...)

	rulesPath := filepath.Join(l.baseDir, FileName)
	file, err := os.Open(rulesPath)
	switch {
	case err == nil:
		defer file.Close()
		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
			rules++
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("read ignore file", "path", rulesPath, "error", err)
		} else {
			slog.Debug("ignore file loaded", "path", rulesPath, "rules", rules)
		}
	case !os.IsNotExist(err):
		slog.Warn("open ignore file", "path", rulesPath, "error", err)
	}

	compiled := gitignore.CompileIgnoreLines(lines...)
	l.mu.Lock()
	l.ignore = compiled
	l.mu.Unlock()
}

func (l *List) matcher() *gitignore.GitIgnore {
	l.mu.RLock()
	m := l.ignore
	l.mu.RUnlock()
	if m != nil {
		return m
	}
	l.Load()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ignore
}

// ShouldIgnore reports whether relPath (slash separated) is excluded.
func (l *List) ShouldIgnore(relPath string) bool {
	if l.matcher().MatchesPath(relPath) {
		return true
	}
	for _, pattern := range l.excludes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
