// Package watcher notices installed content that changes or disappears
// outside of the manager.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/vrsandeep/repokeep/internal/logger"
)

// Handler receives the debounced set of changed paths.
type Handler func(paths []string)

// Service watches the managed roots and reports removals and renames.
type Service struct {
	roots         []string
	handler       Handler
	watcher       *fsnotify.Watcher
	changedPaths  map[string]bool
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
	log           *log.Logger
}

// New creates a watcher for roots. Missing roots are skipped at Start.
func New(roots []string, handler Handler, l *log.Logger) *Service {
	return &Service{
		roots:         roots,
		handler:       handler,
		changedPaths:  make(map[string]bool),
		debounceDelay: 2 * time.Second,
		stopChan:      make(chan struct{}),
		log:           logger.Component(l, "watcher"),
	}
}

// SetDebounce changes how long the service waits after the last event.
func (w *Service) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Start begins watching every existing root recursively.
func (w *Service) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	for _, root := range w.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			w.log.Debug("Managed root does not exist yet", "root", root)
			continue
		}
		if err != nil {
			watcher.Close()
			return err
		}
	}

	w.log.Info("File watcher started", "roots", len(w.roots))
	go w.processEvents()
	return nil
}

func (w *Service) Stop() error {
	close(w.stopChan)
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Service) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("File watcher error", "err", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Service) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		// New directories inside a root (fresh installs) are watched too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Debug("Could not watch new directory", "path", event.Name, "err", err)
			}
		}
		return
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.changedPaths[event.Name] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.flush)
	w.mu.Unlock()
}

func (w *Service) flush() {
	w.mu.Lock()
	if len(w.changedPaths) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.changedPaths))
	for path := range w.changedPaths {
		paths = append(paths, path)
	}
	w.changedPaths = make(map[string]bool)
	w.mu.Unlock()

	w.log.Debug("Detected removed content", "paths", len(paths))
	w.handler(paths)
}
