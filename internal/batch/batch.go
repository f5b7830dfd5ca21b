// Package batch implements the result batcher: per-worker buffers
// that flush into a shared pending buffer, drained by a single writer
// into bulk upserts against the host store, rather than one round-trip
// per row.
package batch

import (
	"context"
	"sync"

	"github.com/seo-platform/crawler/internal/storage"
)

// WorkerBufferSize is the per-worker accumulation threshold before a
// flush to the shared pending buffer.
const WorkerBufferSize = 20

// FlushBatchSize is the size of batches the single writer drains the
// pending buffer into.
const FlushBatchSize = 100

// Sink performs the actual bulk write; storage.Store satisfies it.
type Sink interface {
	UpsertBatch(ctx context.Context, results []storage.Result) (int64, error)
}

// Batcher owns the shared pending buffer and the single writer lock.
// Workers each hold a WorkerBuffer obtained via NewWorkerBuffer.
type Batcher struct {
	mu      sync.Mutex
	pending []storage.Result
	sink    Sink
}

// New creates a Batcher writing to sink.
func New(sink Sink) *Batcher {
	return &Batcher{sink: sink}
}

// addToPending appends rows to the shared pending buffer, deduplicating
// so that within the newly-added set the later record for a URL wins.
// Rows already in pending from a prior flush are kept as-is; a later
// flush's row for the same URL simply supersedes the earlier one when
// both land in the same drained batch, since the upsert itself is keyed
// by URL.
func (b *Batcher) addToPending(rows []storage.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, dedupeLastWins(rows)...)
}

// dedupeLastWins collapses rows to one per URL, keeping the last
// occurrence.
func dedupeLastWins(rows []storage.Result) []storage.Result {
	if len(rows) <= 1 {
		return rows
	}
	lastIdx := make(map[string]int, len(rows))
	for i, r := range rows {
		lastIdx[r.URL] = i
	}
	out := make([]storage.Result, 0, len(lastIdx))
	for i, r := range rows {
		if lastIdx[r.URL] == i {
			out = append(out, r)
		}
	}
	return out
}

// FlushPending drains the shared pending buffer in chunks of
// FlushBatchSize and writes each chunk to the sink. It holds the writer
// lock for the whole drain, enforcing a single writer against the host
// store.
func (b *Batcher) FlushPending(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.pending
	b.pending = nil

	var total int64
	for len(rows) > 0 {
		n := FlushBatchSize
		if n > len(rows) {
			n = len(rows)
		}
		chunk := dedupeLastWins(rows[:n])
		rows = rows[n:]

		affected, err := b.sink.UpsertBatch(ctx, chunk)
		if err != nil {
			return total, err
		}
		total += affected
	}
	return total, nil
}

// PendingLen reports the current shared pending buffer size, mainly for
// tests and diagnostics.
func (b *Batcher) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// WorkerBuffer is a per-worker accumulation buffer. Workers append
// results locally and call Flush when full or on exit, which hands the
// buffered rows to the shared Batcher.
type WorkerBuffer struct {
	owner *Batcher
	rows  []storage.Result
}

// NewWorkerBuffer creates a WorkerBuffer attached to b.
func (b *Batcher) NewWorkerBuffer() *WorkerBuffer {
	return &WorkerBuffer{owner: b, rows: make([]storage.Result, 0, WorkerBufferSize)}
}

// Add appends one row, auto-flushing to the shared buffer once the
// per-worker threshold is reached.
func (w *WorkerBuffer) Add(r storage.Result) {
	w.rows = append(w.rows, r)
	if len(w.rows) >= WorkerBufferSize {
		w.Flush()
	}
}

// Flush hands any buffered rows to the shared pending buffer. Safe to
// call on an empty buffer (no-op), and must be called on worker exit to
// avoid losing buffered rows.
func (w *WorkerBuffer) Flush() {
	if len(w.rows) == 0 {
		return
	}
	w.owner.addToPending(w.rows)
	w.rows = make([]storage.Result, 0, WorkerBufferSize)
}
