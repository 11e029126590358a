package daemon

import (
	"context"
	"sync"
)

// reply is a single-use response slot. It is resolved with a value or
// dropped exactly once; later calls are no-ops.
type reply[T any] struct {
	ch   chan T
	once sync.Once
}

func newReply[T any]() *reply[T] {
	return &reply[T]{ch: make(chan T, 1)}
}

func (r *reply[T]) resolve(v T) {
	r.once.Do(func() {
		r.ch <- v
		close(r.ch)
	})
}

func (r *reply[T]) drop() {
	r.once.Do(func() { close(r.ch) })
}

// wait blocks until the slot is settled, done is closed or ctx ends.
func (r *reply[T]) wait(ctx context.Context, done <-chan struct{}) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrDropped
		}
		return v, nil
	case <-done:
		// The loop may have settled the slot right before exiting.
		select {
		case v, ok := <-r.ch:
			if !ok {
				return zero, ErrDropped
			}
			return v, nil
		default:
			return zero, ErrDaemonClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
