// Package lifecycle implements the cancellation/shutdown contract: a
// process-wide atomic interrupt flag and the double-signal hard-exit
// rule, wrapping signal.Notify/SIGINT/SIGTERM handling in a reusable
// component the worker pool polls rather than a one-shot main-function
// select.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// Controller tracks the interrupt flag and escalates a second signal
// within the hard-exit window into an immediate process termination.
type Controller struct {
	interrupted   atomic.Bool
	firstSignalAt atomic.Int64 // unix nanos, 0 if not yet signaled
	hardExitAfter time.Duration
	exit          func(code int)
}

// New creates a Controller with the default 3-second double-signal
// window.
func New() *Controller {
	return &Controller{hardExitAfter: 3 * time.Second, exit: os.Exit}
}

// Interrupted reports whether a shutdown has been requested. Workers
// check this between queue pops and after each I/O.
func (c *Controller) Interrupted() bool {
	return c.interrupted.Load()
}

// Signal requests a graceful shutdown; a second call within the
// hard-exit window terminates the process immediately.
func (c *Controller) Signal() {
	now := time.Now().UnixNano()
	prior := c.firstSignalAt.Load()

	if prior != 0 && time.Duration(now-prior) <= c.hardExitAfter {
		c.exit(1)
		return
	}

	c.firstSignalAt.CompareAndSwap(0, now)
	c.interrupted.Store(true)
}

// ListenForSignals installs an OS signal handler for SIGINT/SIGTERM that
// calls Signal on each delivery, and returns a context cancelled on the
// first signal. Call stop() to release the handler when done.
func (c *Controller) ListenForSignals(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				c.Signal()
				cancel()
			case <-done:
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
