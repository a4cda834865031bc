package filesystem

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// watchedExtensions covers definition documents, included fragments, API
// specifications and example payloads.
var watchedExtensions = []string{".yaml", ".yml", ".json"}

// Watcher watches definition and specification trees and calls onReload once
// a burst of changes has settled. Hidden directories, which hold recordings
// and snapshot state, are never watched.
type Watcher struct {
	debounce time.Duration
	logger   ports.Logger
	fsw      *fsnotify.Watcher
	onReload func()

	pending  map[string]struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher over every tree in roots. A root naming a
// file watches the directory that holds it.
func NewWatcher(roots []string, debounce time.Duration, logger ports.Logger, onReload func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		onReload: onReload,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if err := w.watchTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start runs the event loop in a goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the event loop and waits for it. Repeated calls are no-ops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				debounce.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-debounce.C:
			w.logger.Info("reloading definitions due to file changes", "files", len(w.pending))
			clear(w.pending)
			w.onReload()
		}
	}
}

// handle records a relevant event and reports whether a reload is due.
// Newly created directories are added to the watch set.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if isHidden(event.Name) {
		return false
	}
	if !isWatchedFile(event.Name) {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watchTree(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
				}
			}
		}
		return false
	}

	w.logger.Debug("file change detected", "file", event.Name, "op", event.Op.String())
	w.pending[event.Name] = struct{}{}
	return true
}

func (w *Watcher) watchTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func isWatchedFile(name string) bool {
	return slices.Contains(watchedExtensions, strings.ToLower(filepath.Ext(name)))
}

// isHidden reports whether the entry or its parent directory is hidden.
func isHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".") || strings.HasPrefix(filepath.Base(filepath.Dir(name)), ".")
}
