package layout

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher is the subset of *fsnotify.Watcher used by Watcher, so tests
// can feed events without touching the filesystem.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Watcher reports changes to a definitions directory. Bursts of events
// (an editor writing a temp file and renaming it) collapse into a single
// notification after the debounce window is quiet.
type Watcher struct {
	dir        string
	debounce   time.Duration
	logger     *slog.Logger
	newWatcher func() (FsWatcher, error)
}

// NewWatcher creates a Watcher for dir.
func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		newWatcher: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Run blocks until ctx is canceled, calling onChange once per quiet period
// following a change to a definition file. onChange runs on the watcher's
// goroutine; events arriving meanwhile are coalesced into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("layout: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("layout: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching layout definitions", slog.String("dir", w.dir))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if !relevant(ev) {
				continue
			}

			w.logger.Debug("definition change",
				slog.String("file", filepath.Base(ev.Name)),
				slog.String("op", ev.Op.String()),
			)

			timer.Reset(w.debounce)

		case werr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("definition watcher error", slog.String("error", werr.Error()))

		case <-timer.C:
			onChange(ctx)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !IsDefinitionFile(ev.Name) {
		return false
	}

	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
