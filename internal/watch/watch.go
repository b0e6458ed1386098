// Package watch reports debounced file changes under a project directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bitteprotocol/make-agent/internal/log"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 250 * time.Millisecond

// Event is one changed path, relative to the watched root and slash
// separated.
type Event struct {
	Path string
	Op   string
}

// Handler receives a batch of events. Batches are delivered one at a time.
type Handler func(ctx context.Context, events []Event)

// Options configures a [Watcher].
type Options struct {
	Root     string
	Debounce time.Duration
	// Ignore reports whether a relative path should be dropped. Defaults to
	// NewIgnore().
	Ignore func(rel string) bool
	Logger *slog.Logger
}

// Watcher watches Root and every directory below it, including directories
// created after start.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   func(string) bool
	log      *slog.Logger
	fsw      *fsnotify.Watcher
}

// New starts watching opts.Root.
func New(opts Options) (*Watcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		log:      log.OrDefault(opts.Logger),
		fsw:      fsw,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.ignore == nil {
		w.ignore = NewIgnore()
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops the underlying watcher; Run then returns.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers batches to handle until ctx is done or the watcher is
// closed. The handler runs on the calling goroutine.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	pending := make(map[string]string)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.relative(ev.Name)
			if !ok || w.ignore(rel) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn("watch new directory", "path", rel, "err", err)
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			pending[rel] = ev.Op.String()
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", "err", err)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]Event, 0, len(pending))
			for p, op := range pending {
				batch = append(batch, Event{Path: p, Op: op})
			}
			clear(pending)
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			w.log.Debug("file changes", "count", len(batch), "first", batch[0].Path)
			handle(ctx, batch)
		}
	}
}

func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if rel, ok := w.relative(path); ok && w.ignore(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// NewIgnore returns the default filter: hidden paths at the top level,
// anything inside node_modules, and the given state files together with
// their SQLite sidecars.
func NewIgnore(stateFiles ...string) func(rel string) bool {
	names := make(map[string]struct{})
	for _, f := range stateFiles {
		f = filepath.ToSlash(filepath.Clean(f))
		if f == "" || f == "." {
			continue
		}
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			names[f+suffix] = struct{}{}
		}
	}
	return func(rel string) bool {
		if strings.HasPrefix(rel, ".") {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if part == "node_modules" {
				return true
			}
		}
		_, ok := names[rel]
		return ok
	}
}
