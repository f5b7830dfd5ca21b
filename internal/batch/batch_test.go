package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seo-platform/crawler/internal/storage"
)

type fakeSink struct {
	mu    sync.Mutex
	calls [][]storage.Result
}

func (f *fakeSink) UpsertBatch(_ context.Context, rows []storage.Result) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]storage.Result, len(rows))
	copy(cp, rows)
	f.calls = append(f.calls, cp)
	return int64(len(rows)), nil
}

func TestWorkerBufferAutoFlushesAtThreshold(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink)
	wb := b.NewWorkerBuffer()

	for i := 0; i < WorkerBufferSize; i++ {
		wb.Add(storage.Result{URL: fmt.Sprintf("u%d", i)})
	}

	assert.Equal(t, WorkerBufferSize, b.PendingLen())
}

func TestWorkerBufferFlushOnExit(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink)
	wb := b.NewWorkerBuffer()
	wb.Add(storage.Result{URL: "u1"})
	wb.Add(storage.Result{URL: "u2"})
	wb.Flush()

	assert.Equal(t, 2, b.PendingLen())
}

func TestFlushPendingChunksAtBatchSize(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink)
	wb := b.NewWorkerBuffer()

	for i := 0; i < FlushBatchSize+10; i++ {
		wb.Add(storage.Result{URL: "u"})
	}
	wb.Flush()

	total, err := b.FlushPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(FlushBatchSize+10), total)
	require.Len(t, sink.calls, 2)
	assert.Len(t, sink.calls[0], FlushBatchSize)
}

func TestDedupeLastRecordWinsWithinBatch(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink)
	wb := b.NewWorkerBuffer()

	wb.Add(storage.Result{URL: "dup", HTTPStatus: 200})
	wb.Add(storage.Result{URL: "dup", HTTPStatus: 404})
	wb.Flush()

	_, err := b.FlushPending(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.calls, 1)
	require.Len(t, sink.calls[0], 1)
	assert.Equal(t, 404, sink.calls[0][0].HTTPStatus, "expected later record to win")
}

func TestFlushPendingEmptyIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink)
	total, err := b.FlushPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, sink.calls)
}
