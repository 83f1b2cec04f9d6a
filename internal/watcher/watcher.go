// Package watcher provides a debounced, glob-filtered directory watcher used to
// pick up hook drop files as soon as agent tools write them.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the create/write/chmod burst a single file produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher monitors a directory and calls onFile for files whose basename
// matches one of the glob patterns. Each file is debounced independently.
type Watcher struct {
	dir      string
	patterns []string
	onFile   func(path string)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	pending  map[string]*time.Timer
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// New creates a Watcher for dir. Patterns use filepath.Match syntax against basenames.
func New(dir string, patterns []string, onFile func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		dir:      filepath.Clean(dir),
		patterns: patterns,
		onFile:   onFile,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*time.Timer),
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce overrides the per-file debounce. Must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Matches reports whether name's basename matches any configured pattern.
func (w *Watcher) Matches(name string) bool {
	base := filepath.Base(name)
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Start begins watching. The directory is created if missing.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.dir).Msg("Failed to add initial watch")
		// Polling still covers the directory; the watch is retried on recreation.
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addWatch() error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}
	return w.watcher.Add(w.dir)
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			eventPath := filepath.Clean(event.Name)

			if eventPath == w.dir && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Info().Str("path", w.dir).Msg("Drop directory removed, re-establishing watch")
				if err := w.addWatch(); err != nil {
					log.Warn().Err(err).Str("path", w.dir).Msg("Failed to re-establish watch")
				}
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.Matches(eventPath) {
				continue
			}
			w.schedule(eventPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()

		if running && w.onFile != nil {
			w.onFile(path)
		}
	})
}
