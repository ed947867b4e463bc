package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/filegraph/filegraph/internal/fileevent"
)

// State is the ingestor lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateWatching
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWatching:
		return "watching"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Processor handles one normalized watch event end to end.
type Processor interface {
	Process(ctx context.Context, ev WatchEvent) error
}

// Ingestor wires DirectoryWatcher -> EventPublisher with per-path
// serialization: at most one pipeline runs for a given path at a time, and
// notifications arriving for an in-flight path are queued behind it in
// arrival order. Distinct paths process concurrently.
type Ingestor struct {
	root        string
	scanOnStart bool
	drainGrace  time.Duration

	watcher   *DirectoryWatcher
	processor Processor

	// sem bounds concurrent file pipelines so a large initial scan or an
	// event storm does not open unbounded file handles.
	sem *semaphore.Weighted

	// Owned by the Run loop goroutine; never accessed concurrently.
	inflight map[string]bool
	queued   map[string][]queuedEvent

	wg sync.WaitGroup
}

type queuedEvent struct {
	ev      WatchEvent
	retries int
}

type pathResult struct {
	item queuedEvent
	err  error
}

func NewIngestor(cfg *Config, watcher *DirectoryWatcher, processor Processor) *Ingestor {
	return &Ingestor{
		root:        cfg.Root,
		scanOnStart: cfg.ScanOnStart,
		drainGrace:  cfg.DrainGrace,
		watcher:     watcher,
		processor:   processor,
		sem:         semaphore.NewWeighted(int64(cfg.MaxInflight)),
		inflight:    make(map[string]bool),
		queued:      make(map[string][]queuedEvent),
	}
}

// Run watches until ctx is canceled, then drains. A watch subscription
// failure is fatal and returned; per-file processing failures are contained
// and logged.
func (in *Ingestor) Run(ctx context.Context) error {
	slog.Info("ingestor state", "state", StateStarting)

	if err := in.watcher.Start(ctx); err != nil {
		return err
	}

	// Processing outlives ctx so in-flight work can drain; force-close
	// cancels it when the grace period runs out.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	var scanEvents chan WatchEvent
	if in.scanOnStart {
		scanEvents = make(chan WatchEvent, eventBufferSize)
		go in.scan(ctx, scanEvents)
	}

	done := make(chan pathResult)
	events := in.watcher.Events()

	slog.Info("ingestor state", "state", StateWatching)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-scanEvents:
			if !ok {
				scanEvents = nil
				continue
			}
			in.dispatch(procCtx, queuedEvent{ev: ev}, done)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					break loop
				}
				return errors.New("watch event stream closed unexpectedly")
			}
			in.dispatch(procCtx, queuedEvent{ev: ev}, done)
		case res := <-done:
			in.complete(procCtx, res, done)
		}
	}

	slog.Info("ingestor state", "state", StateDraining, "inflight", len(in.inflight))
	in.watcher.Stop()
	if pending := len(in.queued); pending > 0 {
		slog.Warn("dropping queued events on drain", "paths", pending)
	}

	grace := time.NewTimer(in.drainGrace)
	defer grace.Stop()
	for len(in.inflight) > 0 {
		select {
		case res := <-done:
			in.completeDrain(res)
		case <-grace.C:
			slog.Warn("drain grace exceeded, force closing", "inflight", len(in.inflight))
			procCancel()
			slog.Info("ingestor state", "state", StateStopped)
			return nil
		}
	}
	in.wg.Wait()

	slog.Info("ingestor state", "state", StateStopped)
	return nil
}

// scan synthesizes Created events for every regular file already present
// under the root, so a cold start converges the store to the current tree.
func (in *Ingestor) scan(ctx context.Context, out chan<- WatchEvent) {
	defer close(out)

	count := 0
	err := filepath.WalkDir(in.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("scan skipping", "path", path, "error", err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		select {
		case out <- WatchEvent{Path: path, Kind: fileevent.KindCreated}:
			count++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		slog.Warn("initial scan aborted", "error", err)
		return
	}
	slog.Info("initial scan complete", "root", in.root, "files", count)
}

func (in *Ingestor) dispatch(ctx context.Context, item queuedEvent, done chan<- pathResult) {
	path := item.ev.Path
	if in.inflight[path] {
		in.queued[path] = append(in.queued[path], item)
		return
	}
	in.inflight[path] = true
	in.start(ctx, item, done)
}

func (in *Ingestor) start(ctx context.Context, item queuedEvent, done chan<- pathResult) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		if err := in.sem.Acquire(ctx, 1); err != nil {
			return
		}
		err := in.processor.Process(ctx, item.ev)
		in.sem.Release(1)
		select {
		case done <- pathResult{item: item, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (in *Ingestor) complete(ctx context.Context, res pathResult, done chan<- pathResult) {
	path := res.item.ev.Path

	switch {
	case res.err == nil:
	case errors.Is(res.err, ErrTruncatedRead) && res.item.retries == 0:
		// The file was rewritten mid-hash; run it again behind nothing.
		slog.Warn("fingerprint raced a write, requeueing", "path", path)
		res.item.retries++
		in.queued[path] = append([]queuedEvent{res.item}, in.queued[path]...)
	default:
		// Contained: the attempt is abandoned and the next equivalent
		// notification re-triggers the path.
		slog.Error("event processing failed", "path", path, "error", res.err)
	}

	if q := in.queued[path]; len(q) > 0 {
		next := q[0]
		if len(q) == 1 {
			delete(in.queued, path)
		} else {
			in.queued[path] = q[1:]
		}
		in.start(ctx, next, done)
		return
	}
	delete(in.inflight, path)
}

func (in *Ingestor) completeDrain(res pathResult) {
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		slog.Error("event processing failed during drain", "path", res.item.ev.Path, "error", res.err)
	}
	delete(in.inflight, res.item.ev.Path)
}
