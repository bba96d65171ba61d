package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// flusher coalesces dirty session ids and writes the latest snapshot of each
// to the store outside the registry lock.
type flusher struct {
	reg   *Registry
	store Store
	log   logrus.FieldLogger

	mu    sync.Mutex
	dirty map[string]struct{}
	wake  chan struct{}

	// retryDelay is how long a failed snapshot waits before the next attempt.
	retryDelay time.Duration
}

func newFlusher(r *Registry, store Store, log logrus.FieldLogger) *flusher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &flusher{
		reg:   r,
		store: store,
		log:   log.WithField("component", "registry_flusher"),
		dirty: make(map[string]struct{}),
		wake:  make(chan struct{}, 1),

		retryDelay: 2 * time.Second,
	}
}

func (f *flusher) mark(id string) {
	f.mu.Lock()
	f.dirty[id] = struct{}{}
	f.mu.Unlock()
	f.signal()
}

func (f *flusher) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *flusher) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.dirty))
	for id := range f.dirty {
		ids = append(ids, id)
	}
	f.dirty = make(map[string]struct{})
	return ids
}

func (f *flusher) flush(ctx context.Context) {
	failed := false
	for _, id := range f.take() {
		s, ok := f.reg.Get(id)
		if !ok {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := f.store.Save(sctx, s)
		cancel()
		if err != nil {
			f.log.WithError(err).WithField("session_id", id).Warn("persist session snapshot failed")
			f.mu.Lock()
			f.dirty[id] = struct{}{}
			f.mu.Unlock()
			failed = true
		}
	}
	if failed {
		time.AfterFunc(f.retryDelay, f.signal)
	}
}

// RunPersistence writes dirty snapshots until ctx is done, then flushes once
// more with a fresh deadline.
func (r *Registry) RunPersistence(ctx context.Context) {
	if r.flusher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.flusher.flush(final)
			cancel()
			return
		case <-r.flusher.wake:
			r.flusher.flush(ctx)
		}
	}
}

// Flush synchronously writes all dirty snapshots.
func (r *Registry) Flush(ctx context.Context) {
	if r.flusher != nil {
		r.flusher.flush(ctx)
	}
}

// Restore loads persisted sessions from the configured store.
func (r *Registry) Restore(ctx context.Context) ([]string, error) {
	if r.flusher == nil {
		return nil, nil
	}
	sessions, err := r.flusher.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	r.Load(sessions)
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	return ids, nil
}
