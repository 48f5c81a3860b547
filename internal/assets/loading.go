// Package assets tracks background blob loads as phase progress.
package assets

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/runner"
	"github.com/jroyal/phasetrack/internal/tracker"
)

// BlobStore is the read side of a blob backend.
type BlobStore interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Loading fetches declared assets in the background and exposes the
// load state as a progress aggregate. A failed load counts as done so a
// missing asset cannot wedge the phase forever; the failure is logged.
type Loading struct {
	store       BlobStore
	logger      *zap.Logger
	concurrency chan struct{}

	done  atomic.Uint32
	total atomic.Uint32
	wg    sync.WaitGroup

	mu     sync.RWMutex
	loaded map[string][]byte
}

// NewLoading constructs a Loading tracker over a blob store.
func NewLoading(store BlobStore, logger *zap.Logger) *Loading {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loading{
		store:       store,
		logger:      logger,
		concurrency: make(chan struct{}, 8),
		loaded:      make(map[string][]byte),
	}
}

// Enqueue declares assets and starts loading them in the background.
func (l *Loading) Enqueue(ctx context.Context, paths ...string) {
	for _, path := range paths {
		l.total.Add(1)
		l.wg.Add(1)
		go l.load(ctx, path)
	}
}

func (l *Loading) load(ctx context.Context, path string) {
	defer l.wg.Done()
	l.concurrency <- struct{}{}
	defer func() { <-l.concurrency }()

	data, err := l.store.GetObject(ctx, path)
	if err != nil {
		l.logger.Warn("asset load failed",
			zap.String("path", path),
			zap.Error(err),
		)
		l.done.Add(1)
		return
	}

	l.mu.Lock()
	l.loaded[path] = data
	l.mu.Unlock()
	l.done.Add(1)
}

// Progress returns the current load aggregate.
func (l *Loading) Progress() tracker.Progress {
	return tracker.Progress{
		Done:  l.done.Load(),
		Total: l.total.Load(),
	}
}

// Get returns a loaded asset's content.
func (l *Loading) Get(path string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.loaded[path]
	return data, ok
}

// Wait blocks until every enqueued load has finished.
func (l *Loading) Wait() {
	l.wg.Wait()
}

// Task adapts the loader into a tracked task so asset readiness gates
// the phase transition alongside other tracked work.
func (l *Loading) Task() runner.Task {
	return func(context.Context, *runner.TaskContext) tracker.Contribution {
		return l.Progress()
	}
}
