package collab

import (
	"context"
	"errors"
)

var ErrHubClosed = errors.New("collab: hub closed")

// Hub serializes every inbound event onto a single goroutine that owns the
// Engine, so each handler is atomic with respect to all others and
// concurrent edits are totally ordered by arrival.
type Hub struct {
	engine *Engine
	tasks  chan task
	done   chan struct{}
}

// task is either an inbound event or a read-only callback; both share one
// queue so callbacks observe every event submitted before them.
type task struct {
	in Inbound
	fn func(*Engine)
}

func NewHub(engine *Engine, queue int) *Hub {
	if queue < 0 {
		queue = 0
	}
	return &Hub{
		engine: engine,
		tasks:  make(chan task, queue),
		done:   make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-h.tasks:
			if t.fn != nil {
				t.fn(h.engine)
				continue
			}
			h.engine.Handle(t.in)
		}
	}
}

// Submit queues an event, blocking while the queue is full. Events still
// queued when Run returns are discarded.
func (h *Hub) Submit(ctx context.Context, in Inbound) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.tasks <- task{in: in}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect runs fn on the loop goroutine and waits for it to return. fn must
// only read engine state.
func (h *Hub) Inspect(ctx context.Context, fn func(*Engine)) error {
	finished := make(chan struct{})
	wrapped := func(e *Engine) {
		defer close(finished)
		fn(e)
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.tasks <- task{fn: wrapped}:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubClosed
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
