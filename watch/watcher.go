// Package watch reports content changes of the vocabulary snapshot file
// and of the axiom and schema directories so they can be reloaded.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Kind names what a target holds.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindAxioms   Kind = "axioms"
	KindSchemas  Kind = "schemas"
)

// Target is a file, or a directory filtered by a doublestar pattern.
type Target struct {
	Kind Kind
	Path string
	// Pattern selects files inside a directory target ("**/*" if empty).
	Pattern string
}

// Config configures the watcher
type Config struct {
	Targets []Target

	// Debounce is how long to wait for more changes before checking
	Debounce time.Duration

	Logger *slog.Logger
}

// Event reports that a target's content changed.
type Event struct {
	Kind Kind
	Path string
	// Removed is set when a file target no longer exists.
	Removed bool
}

// Watcher watches targets and emits an Event when their content hash
// changes. Touching a file without changing it emits nothing.
type Watcher struct {
	targets  []Target
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[int]bool // target index -> needs check

	hashMu sync.Mutex
	hashes map[int]string

	events  chan Event
	done    chan struct{}
	started bool
}

// New creates a watcher for cfg.Targets.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("no watch targets")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	targets := make([]Target, len(cfg.Targets))
	for i, t := range cfg.Targets {
		t.Path = filepath.Clean(t.Path)
		if t.Pattern == "" {
			t.Pattern = "**/*"
		}
		targets[i] = t
	}

	return &Watcher{
		targets:  targets,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[int]bool),
		hashes:   make(map[int]string),
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel of change events. It is closed once the
// watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start records the current content of every target and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	for i, t := range w.targets {
		w.setHash(i, hashTarget(t))
		if err := w.addWatches(t); err != nil {
			return err
		}
	}

	w.started = true
	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		"targets", len(w.targets),
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	} else {
		close(w.events)
	}
	return err
}

func (w *Watcher) addWatches(t Target) error {
	info, err := os.Stat(t.Path)
	switch {
	case err == nil && info.IsDir():
		return w.addWatchesRecursive(t.Path)
	case err == nil || os.IsNotExist(err):
		// Editors replace files by rename, so watch the directory.
		return w.addWatch(filepath.Dir(t.Path))
	default:
		return err
	}
}

func (w *Watcher) addWatch(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch directory", "path", dir, "error", err)
		return nil
	}
	w.logger.Debug("Watching directory", "path", dir)
	return nil
}

// addWatchesRecursive adds watches to all directories below root
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.addWatch(path)
	})
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent marks the targets an fsnotify event belongs to.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() && !strings.HasPrefix(filepath.Base(path), ".") {
			_ = w.addWatch(path)
		}
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for i, t := range w.targets {
		if path == t.Path || strings.HasPrefix(path, t.Path+string(filepath.Separator)) {
			w.pending[i] = true
			w.logger.Debug("File change detected", "kind", t.Kind, "path", path, "op", event.Op.String())
		}
	}
}

// flushPending re-hashes every pending target and reports real changes.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toCheck := make([]int, 0, len(w.pending))
	for i := range w.pending {
		toCheck = append(toCheck, i)
	}
	w.pending = make(map[int]bool)
	w.pendingMu.Unlock()
	sort.Ints(toCheck)

	for _, i := range toCheck {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if ev, changed := w.check(i); changed {
			w.sendEvent(ev)
		}
	}
}

// check compares the current hash of target i with the recorded one.
func (w *Watcher) check(i int) (Event, bool) {
	t := w.targets[i]
	hash := hashTarget(t)

	w.hashMu.Lock()
	old := w.hashes[i]
	w.hashes[i] = hash
	w.hashMu.Unlock()

	if hash == old {
		return Event{}, false
	}
	return Event{Kind: t.Kind, Path: t.Path, Removed: hash == ""}, true
}

func (w *Watcher) setHash(i int, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[i] = hash
}

// sendEvent sends an event to the output channel
func (w *Watcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent watch event", "kind", event.Kind, "path", event.Path)
	default:
		w.logger.Warn("Event channel full, dropping event", "kind", event.Kind, "path", event.Path)
	}
}

// hashTarget returns a content hash of t, or "" when nothing is there.
// Unreadable files inside a directory contribute their name only.
func hashTarget(t Target) string {
	info, err := os.Stat(t.Path)
	if err != nil {
		return ""
	}
	h := sha256.New()
	if !info.IsDir() {
		data, err := os.ReadFile(t.Path)
		if err != nil {
			return ""
		}
		h.Write(data)
		return hex.EncodeToString(h.Sum(nil))
	}

	matches, err := doublestar.Glob(os.DirFS(t.Path), t.Pattern)
	if err != nil {
		return ""
	}
	sort.Strings(matches)
	for _, m := range matches {
		full := filepath.Join(t.Path, filepath.FromSlash(m))
		fi, err := os.Stat(full)
		if err != nil || fi.IsDir() {
			continue
		}
		h.Write([]byte(m))
		h.Write([]byte{0})
		if data, err := os.ReadFile(full); err == nil {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
