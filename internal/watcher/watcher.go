// Package watcher imports task files dropped into a directory.
//
// The watcher:
//  1. Imports files already present when it starts
//  2. Watches the directory for new or rewritten .json, .jsonl and .toml files
//  3. Waits until a file has been quiet for the debounce interval
//  4. Adds the file's tasks through the state core with one batch call
//  5. Moves the file to processed/ or failed/
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/tasksync/internal/migrate"
	"github.com/mschirtzinger/tasksync/internal/types"
)

const (
	// ProcessedDir receives files whose tasks were added.
	ProcessedDir = "processed"
	// FailedDir receives files that could not be parsed or added.
	FailedDir = "failed"
)

// Sink receives imported tasks. *app.App implements it.
type Sink interface {
	BatchAdd(ctx context.Context, tasks []*types.Task) ([]string, error)
}

// Result describes one processed file.
type Result struct {
	Path  string // original path
	Tasks int
	Err   error
}

// Config holds configuration for the watcher.
type Config struct {
	// Debounce is how long a file must be quiet before it is imported.
	// This lets editors and copy tools finish writing.
	Debounce time.Duration

	// OnResult, if set, is called after each file is handled
	OnResult func(Result)

	// Logger for watcher activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 500 * time.Millisecond,
		Logger:   slog.Default().With("component", "watcher"),
	}
}

// Watcher feeds files from a drop directory into a Sink.
type Watcher struct {
	sink   Sink
	dir    string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher for dir, creating the directory if needed.
// Use Start() to begin importing.
func New(sink Sink, dir string, config *Config) (*Watcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for _, d := range []string{absDir, filepath.Join(absDir, ProcessedDir), filepath.Join(absDir, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		sink:        sink,
		dir:         absDir,
		config:      config,
		watcher:     fw,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Dir returns the absolute path of the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start queues files already in the directory, then watches it until ctx is
// cancelled or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.config.Logger.Info("watching drop directory", "dir", w.dir, "debounce", w.config.Debounce)

	if err := w.queueExisting(); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	select {
	case <-ctx.Done():
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down and waits for an in-flight import to finish.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && migrate.Supported(e.Name()) {
			w.queueChange(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Moves out of the directory show up as Remove or Rename; only
			// new content matters.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(event.Name) != w.dir || !migrate.Supported(event.Name) {
				continue
			}
			w.config.Logger.Debug("file event", "op", event.Op.String(), "path", event.Name)
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange records the latest event time for path.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet long enough.
func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.due(time.Now()) {
				w.importFile(path)
			}
		}
	}
}

// due removes and returns the queued paths whose debounce interval elapsed.
func (w *Watcher) due(now time.Time) []string {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.Debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

// importFile adds the tasks in path and moves the file out of the directory.
func (w *Watcher) importFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	n, err := w.addTasks(path)
	dest := ProcessedDir
	if err != nil {
		dest = FailedDir
		w.config.Logger.Warn("import failed", "path", path, "error", err)
	} else {
		w.config.Logger.Info("imported tasks", "path", path, "tasks", n)
	}

	if moveErr := w.move(path, dest); moveErr != nil {
		w.config.Logger.Error("failed to move imported file", "path", path, "error", moveErr)
	}
	if w.config.OnResult != nil {
		w.config.OnResult(Result{Path: path, Tasks: n, Err: err})
	}
}

func (w *Watcher) addTasks(path string) (int, error) {
	snap, err := migrate.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(snap.Projects)+len(snap.Sections)+len(snap.Labels) > 0 {
		return 0, fmt.Errorf("drop files may only contain tasks; use tsync import for projects, sections and labels")
	}
	if len(snap.Tasks) == 0 {
		return 0, nil
	}

	tasks := make([]*types.Task, len(snap.Tasks))
	for i, t := range snap.Tasks {
		c := t.Clone()
		c.ID = ""
		c.SetDefaults()
		tasks[i] = c
	}
	if _, err := w.sink.BatchAdd(w.ctx, tasks); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// move renames path into sub, suffixing the name with a timestamp when a file
// of that name was handled before.
func (w *Watcher) move(path, sub string) error {
	name := filepath.Base(path)
	target := filepath.Join(w.dir, sub, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		target = filepath.Join(w.dir, sub,
			fmt.Sprintf("%s.%s%s", name[:len(name)-len(ext)], time.Now().Format("20060102-150405.000"), ext))
	}
	return os.Rename(path, target)
}
