package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/rjeczalik/notify"

	"github.com/filegraph/filegraph/internal/fileevent"
)

const eventBufferSize = 64

// WatchEvent is a normalized filesystem notification: a path plus one of the
// two transitions the pipeline ingests.
type WatchEvent struct {
	Path string
	Kind fileevent.Kind
}

// DirectoryWatcher subscribes to recursive change notifications under a root
// and narrows the platform's raw event set down to Created and MovedIn. The
// watch handle is owned by the instance and released by Stop.
type DirectoryWatcher struct {
	root   string
	raw    chan notify.EventInfo
	events chan WatchEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewDirectoryWatcher(root string) *DirectoryWatcher {
	return &DirectoryWatcher{
		root: root,
		done: make(chan struct{}),
	}
}

// Start subscribes to the OS watch. A subscription failure (e.g. the inotify
// watch limit is exhausted) is returned as-is: the caller must treat it as
// fatal rather than run without a working watch.
func (w *DirectoryWatcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "root", w.root)

	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan WatchEvent, eventBufferSize)

	recursivePath := w.root + "/..."
	if err := notify.Watch(recursivePath, w.raw, notify.Create|notify.Rename); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.normalize(ctx)

	return nil
}

// Stop releases the watch subscription and waits for the normalizer to drain.
func (w *DirectoryWatcher) Stop() {
	slog.Info("watcher stopping")
	close(w.done)
	if w.raw != nil {
		notify.Stop(w.raw)
	}
	w.wg.Wait()
	slog.Info("watcher stopped")
}

// Events is the stream of normalized notifications. The channel closes when
// the watcher stops.
func (w *DirectoryWatcher) Events() <-chan WatchEvent {
	return w.events
}

func (w *DirectoryWatcher) normalize(ctx context.Context) {
	defer func() {
		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case raw, ok := <-w.raw:
			if !ok {
				return
			}

			kind, ok := classify(raw.Event(), isRegularFile(raw.Path()))
			if !ok {
				continue
			}

			ev := WatchEvent{Path: raw.Path(), Kind: kind}
			select {
			case w.events <- ev:
				slog.Debug("watcher", "kind", ev.Kind, "path", ev.Path)
			default:
				slog.Warn("watcher dropped", "reason", "channel full", "path", ev.Path)
			}
		}
	}
}

// classify maps a raw notify event to the pipeline's event kinds. Create maps
// to Created; Rename maps to MovedIn when the path still resolves to a regular
// file (the rename target side; the vacated source side no longer stats).
// Everything else, and anything that is not a regular file, is dropped.
func classify(event notify.Event, regular bool) (fileevent.Kind, bool) {
	if !regular {
		return "", false
	}
	switch {
	case event&notify.Create != 0:
		return fileevent.KindCreated, true
	case event&notify.Rename != 0:
		return fileevent.KindMovedIn, true
	default:
		return "", false
	}
}

func isRegularFile(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode().IsRegular()
}
