// Package pass holds the five batch drivers. Every pass shares the same
// shape — select, fan out, run the per-parcel pipeline, persist in small
// committed batches, advance scan_pass — while the concurrency envelope and
// selection predicate differ per pass.
package pass

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/store"
)

// Dialer opens a short-lived store connection. Each flush dials fresh: the
// managed Postgres host drops connections idle for more than about a
// minute, and a long batch is mostly idle between flushes.
type Dialer func(ctx context.Context) (*store.Store, func(), error)

// DialDSN returns a Dialer over a connection string.
func DialDSN(dsn string) Dialer {
	return func(ctx context.Context) (*store.Store, func(), error) {
		return store.Dial(ctx, dsn)
	}
}

// Summary is the per-pass outcome reported to the operator.
type Summary struct {
	Scanned int
	Flagged int
	Errors  int
	Skipped int
	Flushed int
}

// buffer collects results across workers and flushes them in chunks. A
// failed flush puts the batch back for the next attempt, so a cancelled run
// loses at most the unflushed tail, never commits half a chunk.
type buffer[T any] struct {
	mu      sync.Mutex
	items   []T
	every   int
	flushFn func(ctx context.Context, batch []T) (int, error)
	flushed int
}

func newBuffer[T any](every int, flushFn func(ctx context.Context, batch []T) (int, error)) *buffer[T] {
	if every <= 0 {
		every = 100
	}
	return &buffer[T]{every: every, flushFn: flushFn}
}

// add appends one result and flushes when the threshold is reached.
func (b *buffer[T]) add(ctx context.Context, item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	ready := len(b.items) >= b.every
	b.mu.Unlock()

	if ready {
		b.flush(ctx)
	}
}

// flush drains the buffer through flushFn. Retries once on a persistence
// failure with the batch intact; after the second failure the batch goes
// back into the buffer.
func (b *buffer[T]) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	n, err := b.flushFn(ctx, batch)
	if err != nil {
		zap.L().Warn("flush failed, retrying once", zap.Int("batch", len(batch)), zap.Error(err))
		n, err = b.flushFn(ctx, batch)
	}
	if err != nil {
		zap.L().Error("flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		b.mu.Lock()
		b.items = append(batch, b.items...)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.flushed += n
	b.mu.Unlock()
}

// unflushed returns any items still buffered (after a final failed flush).
func (b *buffer[T]) unflushed() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items
}

func (b *buffer[T]) flushedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}
