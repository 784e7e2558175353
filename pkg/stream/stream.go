// Package stream bridges callback-driven producers to pull-style consumers.
//
// Every stream is bounded and carries an explicit overflow policy:
//
//	s, sink := stream.New[[]byte](stream.Options{Capacity: 64, Policy: stream.Block}, unsubscribe)
//	go func() {
//	    for v := range native {
//	        if !sink.Push(v) {
//	            return // consumer went away
//	        }
//	    }
//	    sink.Finish()
//	}()
//	for v, err := range s.All(ctx) { ... }
//	s.Close()
//
// Close runs the teardown hook exactly once and guarantees that no item is
// observed afterwards.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Policy decides what happens when the producer outruns the consumer.
type Policy int

const (
	// Block makes the producer wait for consumer progress or teardown.
	Block Policy = iota
	// DropOldest overwrites the oldest buffered item and counts it as dropped.
	DropOldest
)

func (p Policy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "block"
}

// ParsePolicy maps "block" and "drop-oldest" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop-oldest", "drop_oldest", "dropoldest":
		return DropOldest, nil
	default:
		return Block, errors.New("unknown stream policy " + s)
	}
}

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 64

// ErrClosed is returned by Next once the consumer has closed the stream.
var ErrClosed = errors.New("stream closed")

// Options configures a stream.
type Options struct {
	Capacity int
	Policy   Policy
	Name     string
}

// Stats are runtime counters of a stream.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

type source[T any] interface {
	next(ctx context.Context) (T, error)
	close()
	stats() Stats
	name() string
	done() <-chan struct{}
}

// Stream is the consumer side. It is safe for one consumer goroutine plus concurrent Close.
type Stream[T any] struct {
	src source[T]
}

// Sink is the producer side. Push may be called from any goroutine.
type Sink[T any] struct {
	p *pipe[T]
}

// New creates a connected Stream/Sink pair. onClose runs once when the consumer closes.
func New[T any](opts Options, onClose func()) (*Stream[T], *Sink[T]) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	p := &pipe[T]{
		opts:     opts,
		onClose:  onClose,
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	if opts.Policy == DropOldest {
		p.ring = mpmc.NewOverlappedRingBuffer[T](ringSize(opts.Capacity))
		p.notify = make(chan struct{}, 1)
	} else {
		p.ch = make(chan T, opts.Capacity)
	}

	return &Stream[T]{src: p}, &Sink[T]{p: p}
}

// Next blocks until an item is available, the stream terminates or ctx is done.
// After the producer fails, buffered items are still delivered before the error.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	return s.src.next(ctx)
}

// All yields items until the stream ends. A terminal error other than
// ErrClosed or io.EOF is yielded once as the last element. It does not close the stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := s.src.next(ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) {
					return
				}
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close tears the stream down; the teardown hook has returned when Close returns.
func (s *Stream[T]) Close() {
	s.src.close()
}

// Done is closed once the stream is closed by its consumer.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.src.done()
}

// Stats returns delivered and dropped counters.
func (s *Stream[T]) Stats() Stats {
	return s.src.stats()
}

// Name returns the diagnostic name given in Options.
func (s *Stream[T]) Name() string {
	return s.src.name()
}

// Push offers v to the consumer. It returns false once the stream is closed or finished.
// Under Block it waits for buffer space.
func (k *Sink[T]) Push(v T) bool {
	return k.p.push(v)
}

// Fail terminates the stream with err after already buffered items.
func (k *Sink[T]) Fail(err error) {
	if err == nil {
		err = io.EOF
	}
	k.p.finish(err)
}

// Finish terminates the stream normally.
func (k *Sink[T]) Finish() {
	k.p.finish(io.EOF)
}

// Done is closed when the consumer closes the stream.
func (k *Sink[T]) Done() <-chan struct{} {
	return k.p.closed
}

// Closed reports whether the consumer has closed the stream.
func (k *Sink[T]) Closed() bool {
	select {
	case <-k.p.closed:
		return true
	default:
		return false
	}
}

// ringSize returns a ring length that can hold capacity items. The ring rounds
// its length up to a power of two and keeps one slot free.
func ringSize(capacity int) uint32 {
	n := uint32(2)
	for n < uint32(capacity)+2 {
		n <<= 1
	}
	return n
}

type pipe[T any] struct {
	opts    Options
	onClose func()

	ch     chan T
	ring   mpmc.RichOverlappedRingBuffer[T]
	ringMu sync.Mutex
	notify chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	finished   chan struct{}
	finishOnce sync.Once
	err        error

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (p *pipe[T]) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *pipe[T]) isFinished() bool {
	select {
	case <-p.finished:
		return true
	default:
		return false
	}
}

func (p *pipe[T]) push(v T) bool {
	if p.isClosed() || p.isFinished() {
		return false
	}

	if p.ring != nil {
		p.ringMu.Lock()
		overwrites, err := p.ring.EnqueueM(v)
		if err != nil {
			p.ringMu.Unlock()
			return false
		}
		// The ring is larger than Capacity; trim to the configured bound.
		for p.ring.Size() > uint32(p.opts.Capacity) {
			if _, err := p.ring.Dequeue(); err != nil {
				break
			}
			overwrites++
		}
		p.ringMu.Unlock()
		p.dropped.Add(uint64(overwrites))
		select {
		case p.notify <- struct{}{}:
		default:
		}
		return true
	}

	select {
	case p.ch <- v:
		return true
	case <-p.closed:
		return false
	}
}

func (p *pipe[T]) tryTake() (T, bool) {
	var zero T
	if p.ring != nil {
		p.ringMu.Lock()
		defer p.ringMu.Unlock()
		if p.ring.IsEmpty() {
			return zero, false
		}
		v, err := p.ring.Dequeue()
		if err != nil {
			return zero, false
		}
		return v, true
	}
	select {
	case v := <-p.ch:
		return v, true
	default:
		return zero, false
	}
}

func (p *pipe[T]) next(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if p.isClosed() {
			return zero, ErrClosed
		}
		if v, ok := p.tryTake(); ok {
			p.delivered.Add(1)
			return v, nil
		}

		// ch is nil under DropOldest and notify is nil under Block, so only one of them is live.
		select {
		case <-p.closed:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		case v := <-p.ch:
			if p.isClosed() {
				return zero, ErrClosed
			}
			p.delivered.Add(1)
			return v, nil
		case <-p.notify:
		case <-p.finished:
			if v, ok := p.tryTake(); ok {
				p.delivered.Add(1)
				return v, nil
			}
			return zero, p.err
		}
	}
}

func (p *pipe[T]) finish(err error) {
	p.finishOnce.Do(func() {
		p.err = err
		close(p.finished)
	})
}

func (p *pipe[T]) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.onClose != nil {
			p.onClose()
		}
	})
}

func (p *pipe[T]) stats() Stats {
	return Stats{Delivered: p.delivered.Load(), Dropped: p.dropped.Load()}
}

func (p *pipe[T]) name() string {
	return p.opts.Name
}

func (p *pipe[T]) done() <-chan struct{} {
	return p.closed
}
