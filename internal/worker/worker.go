// Package worker implements the worker pool: a fixed number of
// goroutines draining the URL priority queue and running the fetch
// pipeline, capped globally by a connection semaphore. It owns its own
// shutdown, driven by the queue's drained state and the lifecycle
// controller's interrupt signal.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/seo-platform/crawler/internal/batch"
	"github.com/seo-platform/crawler/internal/extractor"
	"github.com/seo-platform/crawler/internal/fetch"
	"github.com/seo-platform/crawler/internal/lifecycle"
	"github.com/seo-platform/crawler/internal/progress"
	"github.com/seo-platform/crawler/internal/urlqueue"
)

// pollInterval is how long WaitAndPop blocks before a worker re-checks
// the interrupt flag.
const pollInterval = 250 * time.Millisecond

// LinkHandler receives links discovered on a successfully crawled page,
// for the orchestration layer to normalize, dedupe and enqueue.
type LinkHandler func(parent urlqueue.Entry, links []extractor.Link)

// Pool runs a fixed number of worker goroutines against a shared queue.
type Pool struct {
	threads   int
	sem       *semaphore.Weighted
	queue     *urlqueue.Queue
	pipeline  *fetch.Pipeline
	lifecycle *lifecycle.Controller
	progress  *progress.Reporter
	batcher   *batch.Batcher
	onLinks   LinkHandler
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New builds a Pool. threads should already be clamped to [1,32]
// (config.Config.Threads); maxTotalConnections sizes the global
// semaphore (config.Config.MaxTotalConnections).
func New(threads, maxTotalConnections int, queue *urlqueue.Queue, pipeline *fetch.Pipeline,
	lc *lifecycle.Controller, pr *progress.Reporter, batcher *batch.Batcher, onLinks LinkHandler, logger *zap.Logger) *Pool {

	if threads < 1 {
		threads = 1
	}
	if maxTotalConnections < threads {
		maxTotalConnections = threads
	}

	return &Pool{
		threads:   threads,
		sem:       semaphore.NewWeighted(int64(maxTotalConnections)),
		queue:     queue,
		pipeline:  pipeline,
		lifecycle: lc,
		progress:  pr,
		batcher:   batcher,
		onLinks:   onLinks,
		logger:    logger,
	}
}

// Run starts the worker goroutines and returns immediately; call Wait
// to block until they have all exited.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.threads; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Wait blocks until every worker goroutine has exited, which happens
// once the queue is shut down and has no due entry left, or the
// lifecycle controller reports an interrupt.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	wb := p.batcher.NewWorkerBuffer()
	defer wb.Flush()

	for {
		if p.lifecycle.Interrupted() {
			return
		}

		entry, ok := p.queue.WaitAndPop(pollInterval)
		if !ok {
			if p.lifecycle.Interrupted() || p.queue.IsShutdown() {
				return
			}
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a connection slot; put the
			// entry back so it isn't silently dropped.
			p.queue.Push(entry)
			return
		}

		out, err := p.pipeline.Run(ctx, entry)
		p.sem.Release(1)

		if err != nil {
			p.logger.Warn("fetch pipeline error", zap.String("url", entry.NormalizedURL), zap.Error(err))
			p.progress.IncFailed()
			continue
		}

		if out.Requeue != nil {
			p.queue.Push(*out.Requeue)
			continue
		}

		if out.Result == nil {
			p.progress.IncSkipped()
			continue
		}

		wb.Add(*out.Result)
		if out.Result.ErrorType == "NONE" {
			p.progress.IncCompleted(int64(len(out.Result.Body)))
		} else {
			p.progress.IncFailed()
		}

		if len(out.Links) > 0 && p.onLinks != nil {
			p.onLinks(entry, out.Links)
		}
	}
}
