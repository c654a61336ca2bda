// internal/monitor/queue.go
package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/reporting"
)

// Queue is the filesystem directory error runs are published to. Entries are
// created by renaming a finished staging directory into place, so a listed
// entry is always complete.
type Queue struct {
	dir    string
	logger *zap.Logger
}

// Entry is one published error run.
type Entry struct {
	Dir      string
	Manifest reporting.Manifest
}

// RunID is the entry's run id.
func (e Entry) RunID() string { return e.Manifest.RunID }

// NewQueue opens the queue rooted at dir. The directory need not exist yet.
func NewQueue(dir string, logger *zap.Logger) *Queue {
	return &Queue{dir: dir, logger: logger.Named("queue")}
}

// Dir is the queue root.
func (q *Queue) Dir() string { return q.dir }

// List returns published entries oldest first. Dot directories (the staging
// area) and directories without a manifest are skipped.
func (q *Queue) List() ([]Entry, error) {
	dirents, err := os.ReadDir(q.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list queue %s: %w", q.dir, err)
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(q.dir, d.Name())
		m, err := reporting.ReadManifest(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				q.logger.Debug("Skipping queue directory without a manifest.", zap.String("dir", dir))
			} else {
				q.logger.Warn("Skipping queue entry with an unreadable manifest.", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}
		if m.RunID == "" {
			m.RunID = d.Name()
		}
		entries = append(entries, Entry{Dir: dir, Manifest: m})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Manifest.CreatedAt, entries[j].Manifest.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return entries[i].Dir < entries[j].Dir
	})
	return entries, nil
}

// Files lists the regular files in the entry, sorted.
func (e Entry) Files() ([]string, error) {
	dirents, err := os.ReadDir(e.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range dirents {
		if d.Type().IsRegular() {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
