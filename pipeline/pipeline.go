// Package pipeline implements the single-consumer, at-most-one-in-flight
// queue the notebook server uses to linearize access to shared state: a
// request pipeline and a response pipeline, each serializing all access
// to the notebook through one driver goroutine.
package pipeline

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// Dispatcher processes one item taken off a Pipeline's queue. Dispatch
// is expected to run to completion before the next item is dequeued;
// that serialization is the whole point of a Pipeline.
type Dispatcher[T any] func(ctx context.Context, item T) error

// Pipeline is an unbounded, ordered, single-consumer queue paired with
// a Dispatcher. Put never drops or reorders items from a single
// producer. Start spawns the one driver goroutine that repeatedly
// dequeues and awaits Dispatch before moving to the next item -- the
// only synchronization the notebook relies on.
type Pipeline[T any] struct {
	dispatch Dispatcher[T]

	mu    sync.Mutex
	items []T
	wake  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	errs  error
}

// New returns a Pipeline that will call dispatch for each item, in
// order, once Start is called.
func New[T any](dispatch Dispatcher[T]) *Pipeline[T] {
	return &Pipeline[T]{
		dispatch: dispatch,
		wake:     make(chan struct{}, 1),
	}
}

// Put enqueues item. Put never blocks on the driver; it only takes the
// internal mutex to append to the backing slice, so a slow dispatcher
// does not stall producers. The queue is unbounded and Put applies no
// backpressure.
func (p *Pipeline[T]) Put(item T) {
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline[T]) next() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if len(p.items) == 0 {
		return zero, false
	}
	item := p.items[0]
	p.items[0] = zero // avoid retaining the dequeued item's memory
	p.items = p.items[1:]
	return item, true
}

// Start spawns the driver goroutine. Calling Start more than once, or
// after Stop, is a programmer error.
func (p *Pipeline[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			if ctx.Err() != nil {
				return
			}
			item, ok := p.next()
			if !ok {
				select {
				case <-p.wake:
					continue
				case <-ctx.Done():
					return
				}
			}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				p.runOne(ctx, item)
			}()
			select {
			case <-finished:
			case <-ctx.Done():
				return // abandon the in-flight dispatch
			}
		}
	}()
}

// runOne invokes the dispatcher for a single item, recovering from a
// panic so that one malformed item can never wedge the queue. Errors
// and recovered panics are wrapped with xerrors and aggregated with
// multierror for the caller to inspect via Errors.
func (p *Pipeline[T]) runOne(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.recordErr(xerrors.Errorf("pipeline dispatch panic: %v", r))
		}
	}()

	if err := p.dispatch(ctx, item); err != nil {
		p.recordErr(xerrors.Errorf("pipeline dispatch: %w", err))
	}
}

func (p *Pipeline[T]) recordErr(err error) {
	p.errMu.Lock()
	p.errs = multierror.Append(p.errs, err)
	p.errMu.Unlock()
}

// Errors returns every error recorded by the dispatcher since Start was
// called, aggregated via multierror. It is safe to call concurrently
// with the driver.
func (p *Pipeline[T]) Errors() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.errs
}

// Stop cancels the driver. In-flight dispatch is abandoned: Stop does
// not wait for the current item to finish.
func (p *Pipeline[T]) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the driver goroutine has exited (either because
// Stop was called or the context passed to Start was cancelled).
func (p *Pipeline[T]) Wait() {
	if p.done != nil {
		<-p.done
	}
}
