package backend

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/pkg/ble"
)

// opQueue runs the GATT operations of one connection strictly in submission order.
type opQueue struct {
	ops  chan func()
	done chan struct{}
	once sync.Once
}

func newOpQueue(ctx context.Context, name string, depth int, logger *logrus.Logger) *opQueue {
	q := &opQueue{
		ops:  make(chan func(), depth),
		done: make(chan struct{}),
	}
	groutine.Go(ctx, name, func(ctx context.Context) {
		logger.WithField("goroutine", groutine.GetName(ctx)).Debug("GATT queue started")
		defer logger.WithField("goroutine", name).Debug("GATT queue stopped")
		for {
			select {
			case op := <-q.ops:
				op()
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}
	})
	return q
}

// stop discards pending operations. Operations already running finish on their own.
func (q *opQueue) stop() {
	q.once.Do(func() { close(q.done) })
}

type result[T any] struct {
	v   T
	err error
}

var errQueueStopped = &ble.Error{Kind: ble.NotConnected, Msg: "connection closed"}

// submit queues fn and waits for its result. If ctx ends first the operation
// still runs when its turn comes, and its result is dropped.
func submit[T any](ctx context.Context, q *opQueue, fn func() (T, error)) (T, error) {
	var zero T
	res := make(chan result[T], 1)
	op := func() {
		v, err := fn()
		res <- result[T]{v: v, err: err}
	}

	select {
	case q.ops <- op:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		return zero, errQueueStopped
	}

	select {
	case r := <-res:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		return zero, errQueueStopped
	}
}
