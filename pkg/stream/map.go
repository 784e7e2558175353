package stream

import "context"

type mapped[T, U any] struct {
	parent source[T]
	fn     func(T) (U, bool)
}

// Map derives a lazily transformed view of s. Items for which fn returns false are skipped.
// Closing either stream tears down both.
func Map[T, U any](s *Stream[T], fn func(T) (U, bool)) *Stream[U] {
	return &Stream[U]{src: &mapped[T, U]{parent: s.src, fn: fn}}
}

func (m *mapped[T, U]) next(ctx context.Context) (U, error) {
	for {
		v, err := m.parent.next(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		if u, ok := m.fn(v); ok {
			return u, nil
		}
	}
}

func (m *mapped[T, U]) close()                { m.parent.close() }
func (m *mapped[T, U]) stats() Stats          { return m.parent.stats() }
func (m *mapped[T, U]) name() string          { return m.parent.name() }
func (m *mapped[T, U]) done() <-chan struct{} { return m.parent.done() }
