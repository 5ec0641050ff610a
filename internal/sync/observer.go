package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// markerDebounce collapses a burst of enqueues into one engine wake.
const markerDebounce = 2 * time.Second

// FsWatcher abstracts fsnotify.Watcher so tests can inject events.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, whose channels are struct
// fields rather than methods.
type fsnotifyWatcher struct{ *fsnotify.Watcher }

func (w fsnotifyWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsnotifyWatcher) Errors() <-chan error          { return w.Watcher.Errors }

// Waker is the engine surface the observer drives. *Engine satisfies it.
type Waker interface {
	Kick()
}

// QueueObserver watches the queue marker file and wakes the engine when
// another process (CLI, host app) enqueues actions. The daemon's own
// enqueues touch the marker too; the extra kick is harmless because a
// drained queue ends the cycle immediately.
type QueueObserver struct {
	markerPath string
	waker      Waker
	logger     *slog.Logger

	debounce       time.Duration
	watcherFactory func() (FsWatcher, error)
}

// NewQueueObserver builds an observer for the marker file at markerPath.
func NewQueueObserver(markerPath string, waker Waker, logger *slog.Logger) *QueueObserver {
	return &QueueObserver{
		markerPath: filepath.Clean(markerPath),
		waker:      waker,
		logger:     logger,
		debounce:   markerDebounce,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return fsnotifyWatcher{w}, nil
		},
	}
}

// Run watches until ctx is canceled. The watch is registered on the
// marker's parent directory: the marker may not exist yet on first run,
// and a directory watch survives the file being replaced.
func (o *QueueObserver) Run(ctx context.Context) error {
	watcher, err := o.watcherFactory()
	if err != nil {
		return fmt.Errorf("sync: starting queue observer: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(o.markerPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	o.logger.Info("queue observer watching", "marker", o.markerPath)

	// The timer stays idle until the first marker event arms it.
	debounce := time.NewTimer(o.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != o.markerPath {
				continue
			}

			// A touch arrives as Create, Write, or Chmod depending on the
			// platform; any event on the marker means an enqueue committed.
			// Resetting the window makes a burst cost a single kick.
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(o.debounce)

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			o.logger.Warn("queue observer watch error", "error", err.Error())

		case <-debounce.C:
			o.logger.Debug("queue marker changed, waking engine")
			o.waker.Kick()
		}
	}
}
