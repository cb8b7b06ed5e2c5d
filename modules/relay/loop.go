package relay

import (
	"context"
	"log"
)

// commandBuffer bounds how many pending directory commands may queue before
// callers block.
const commandBuffer = 256

// Loop serializes all access to the directory core. Inbound events from any
// number of transport goroutines are funneled through a single channel and
// executed one at a time, each to completion, so the core needs no locks and
// no event ever observes a half-applied state change.
type Loop struct {
	commands chan func()
	done     chan struct{}
}

// NewLoop creates a stopped loop; call Run to start processing.
func NewLoop() *Loop {
	return &Loop{
		commands: make(chan func(), commandBuffer),
		done:     make(chan struct{}),
	}
}

// Run processes commands until the context is canceled. It is the only
// goroutine that ever touches the core.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[relay] Loop shutting down...")
			close(l.done)
			return
		case cmd := <-l.commands:
			cmd()
		}
	}
}

// Wait blocks until the loop has stopped.
func (l *Loop) Wait() {
	<-l.done
}

// Do enqueues fn and blocks until the loop has executed it. It fails with
// ErrStopped once the loop is shut down, or with the context error if the
// caller gives up first.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	executed := make(chan struct{})
	wrapped := func() {
		fn()
		close(executed)
	}

	select {
	case l.commands <- wrapped:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-executed:
		return nil
	case <-l.done:
		return ErrStopped
	}
}
