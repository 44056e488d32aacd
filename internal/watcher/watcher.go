// Package watcher watches a single file, typically the settings file or the
// SQLite database, and reports edits and deletions after a short quiet period.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/debounce"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// Kind is the coalesced outcome of a burst of file events.
type Kind int

const (
	// Changed means the target was written or recreated.
	Changed Kind = iota + 1
	// Deleted means the target (or its directory) is gone.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Handlers are the callbacks fired after the quiet period. Either may be nil.
type Handlers struct {
	OnChange func()
	OnDelete func()
}

// Watcher monitors one file through its parent directory, since fsnotify
// cannot watch a file that does not exist yet.
type Watcher struct {
	watcher    *fsnotify.Watcher
	scheduler  *debounce.Scheduler[Kind]
	handlers   Handlers
	targetPath string
	parentPath string
	done       chan struct{}
	mu         sync.Mutex
	running    bool
}

// New creates a Watcher for targetPath. A non-positive quiet uses DefaultDebounce.
func New(targetPath string, quiet time.Duration, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if quiet <= 0 {
		quiet = DefaultDebounce
	}

	target := filepath.Clean(targetPath)
	w := &Watcher{
		watcher:    fsw,
		handlers:   handlers,
		targetPath: target,
		parentPath: filepath.Dir(target),
		done:       make(chan struct{}),
	}
	w.scheduler = debounce.New(quiet, w.dispatch)
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher. Pending callbacks are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.scheduler.Shutdown()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	w.scheduler.Shutdown()
	return err
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

// classify maps a raw event to the outcome it implies for the target.
func (w *Watcher) classify(event fsnotify.Event) (Kind, bool) {
	path := filepath.Clean(event.Name)

	switch path {
	case w.parentPath:
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			return Deleted, true
		}
	case w.targetPath:
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			return Deleted, true
		}
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
			return Changed, true
		}
	}
	return 0, false
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			kind, relevant := w.classify(event)
			if !relevant {
				continue
			}
			log.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Stringer("kind", kind).
				Msg("Watched file event")
			// A later event supersedes an earlier one, so delete-then-recreate
			// within the quiet period reports Changed.
			w.scheduler.Schedule(kind)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// dispatch runs on the scheduler worker once events have settled.
func (w *Watcher) dispatch(kind Kind) {
	log.Info().Str("path", w.targetPath).Stringer("kind", kind).Msg("Watched file settled")

	switch kind {
	case Changed:
		if w.handlers.OnChange != nil {
			w.handlers.OnChange()
		}
	case Deleted:
		if w.handlers.OnDelete != nil {
			w.handlers.OnDelete()
		}
		// The directory may come back; keep trying to watch it.
		if err := w.addWatch(); err != nil {
			log.Warn().Err(err).Str("path", w.parentPath).Msg("Watch not re-established after deletion")
		}
	}
}
