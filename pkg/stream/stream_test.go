package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type StreamTestSuite struct {
	suite.Suite
}

func (suite *StreamTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func (suite *StreamTestSuite) TestBlockPolicy() {
	// GOAL: Verify buffer-and-block delivers every item in order and pauses the producer when full
	//
	// TEST SCENARIO: Fill a capacity-2 stream → third push blocks → consumer pulls → producer resumes
	suite.Run("OrderedDelivery", func() {
		s, sink := New[int](Options{Capacity: 8, Policy: Block}, nil)
		defer s.Close()

		for i := 0; i < 5; i++ {
			suite.True(sink.Push(i))
		}
		sink.Finish()

		var got []int
		for v, err := range s.All(suite.ctx()) {
			suite.Require().NoError(err)
			got = append(got, v)
		}
		suite.Equal([]int{0, 1, 2, 3, 4}, got, "items MUST arrive in push order")
		suite.Equal(uint64(0), s.Stats().Dropped, "block policy MUST NOT drop")
	})

	suite.Run("ProducerBlocksUntilConsumed", func() {
		s, sink := New[int](Options{Capacity: 2, Policy: Block}, nil)
		defer s.Close()

		suite.True(sink.Push(1))
		suite.True(sink.Push(2))

		pushed := make(chan bool, 1)
		go func() { pushed <- sink.Push(3) }()

		select {
		case <-pushed:
			suite.Fail("push into a full block stream MUST wait")
		case <-time.After(50 * time.Millisecond):
		}

		v, err := s.Next(suite.ctx())
		suite.NoError(err)
		suite.Equal(1, v)

		select {
		case ok := <-pushed:
			suite.True(ok)
		case <-time.After(time.Second):
			suite.Fail("producer MUST resume after consumer progress")
		}
	})

	suite.Run("CloseReleasesBlockedProducer", func() {
		s, sink := New[int](Options{Capacity: 1, Policy: Block}, nil)
		suite.True(sink.Push(1))

		pushed := make(chan bool, 1)
		go func() { pushed <- sink.Push(2) }()
		time.Sleep(20 * time.Millisecond)
		s.Close()

		select {
		case ok := <-pushed:
			suite.False(ok, "push MUST report teardown")
		case <-time.After(time.Second):
			suite.Fail("teardown MUST release a blocked producer")
		}
	})
}

func (suite *StreamTestSuite) TestDropOldestPolicy() {
	// GOAL: Verify drop-oldest keeps the newest items and counts losses
	//
	// TEST SCENARIO: Push far more than capacity without consuming → drain → newest survives, drops counted
	s, sink := New[int](Options{Capacity: 4, Policy: DropOldest}, nil)
	defer s.Close()

	const total = 100
	for i := 0; i < total; i++ {
		suite.True(sink.Push(i), "drop-oldest push MUST never block or fail while open")
	}
	sink.Finish()

	var got []int
	for v, err := range s.All(suite.ctx()) {
		suite.Require().NoError(err)
		got = append(got, v)
	}

	suite.NotEmpty(got)
	suite.Less(len(got), total)
	suite.Equal(total-1, got[len(got)-1], "newest item MUST survive")
	for i := 1; i < len(got); i++ {
		suite.Less(got[i-1], got[i], "surviving items MUST keep their order")
	}
	suite.Positive(s.Stats().Dropped)
}

func (suite *StreamTestSuite) TestDropOldestHoldsExactCapacity() {
	// GOAL: Verify a drop-oldest stream buffers exactly Capacity items for any capacity
	//
	// TEST SCENARIO: Push 20 items into capacities 1, 3, 4, 5 and 16 → last N items survive, 20-N dropped
	const total = 20
	for _, capacity := range []int{1, 3, 4, 5, 16} {
		s, sink := New[int](Options{Capacity: capacity, Policy: DropOldest}, nil)
		for i := 0; i < total; i++ {
			sink.Push(i)
		}
		sink.Finish()

		var got []int
		for v, err := range s.All(suite.ctx()) {
			suite.Require().NoError(err)
			got = append(got, v)
		}

		want := make([]int, 0, capacity)
		for i := total - capacity; i < total; i++ {
			want = append(want, i)
		}
		suite.Equal(want, got, "capacity %d MUST keep the newest %d items", capacity, capacity)
		suite.Equal(uint64(total-capacity), s.Stats().Dropped, "capacity %d MUST count every dropped item", capacity)
		s.Close()
	}
}

func (suite *StreamTestSuite) TestDropOldestCapacityOneKeepsLatest() {
	// GOAL: Verify the smallest buffer still delivers the latest item
	//
	// TEST SCENARIO: Capacity 1 → push, consume, push twice → each Next sees the newest item
	s, sink := New[string](Options{Capacity: 1, Policy: DropOldest}, nil)
	defer s.Close()

	sink.Push("available")
	v, err := s.Next(suite.ctx())
	suite.Require().NoError(err)
	suite.Equal("available", v, "a single buffered item MUST be delivered")

	sink.Push("a")
	sink.Push("b")
	v, err = s.Next(suite.ctx())
	suite.Require().NoError(err)
	suite.Equal("b", v)
}

func (suite *StreamTestSuite) TestTeardown() {
	// GOAL: Verify Close is synchronous, runs the hook once, and hides buffered items
	//
	// TEST SCENARIO: Buffer items → Close twice → Next returns ErrClosed and hook ran once
	var calls atomic.Int32
	s, sink := New[string](Options{Capacity: 4}, func() { calls.Add(1) })

	suite.True(sink.Push("a"))
	s.Close()
	s.Close()

	suite.Equal(int32(1), calls.Load(), "teardown hook MUST run exactly once")
	_, err := s.Next(suite.ctx())
	suite.ErrorIs(err, ErrClosed, "no item MUST be observed after Close")
	suite.False(sink.Push("b"))
	suite.True(sink.Closed())

	select {
	case <-sink.Done():
	default:
		suite.Fail("sink Done MUST be closed after teardown")
	}
}

func (suite *StreamTestSuite) TestFailure() {
	// GOAL: Verify a producer failure surfaces after buffered items
	//
	// TEST SCENARIO: Push two items → Fail → two items then the error, repeatedly
	boom := errors.New("adapter went away")
	s, sink := New[int](Options{Capacity: 4}, nil)
	defer s.Close()

	sink.Push(1)
	sink.Push(2)
	sink.Fail(boom)
	suite.False(sink.Push(3), "push after failure MUST be rejected")

	ctx := suite.ctx()
	v, err := s.Next(ctx)
	suite.NoError(err)
	suite.Equal(1, v)
	v, err = s.Next(ctx)
	suite.NoError(err)
	suite.Equal(2, v)
	_, err = s.Next(ctx)
	suite.ErrorIs(err, boom)
	_, err = s.Next(ctx)
	suite.ErrorIs(err, boom, "terminal error MUST be sticky")

	var yielded []error
	for _, err := range s.All(ctx) {
		yielded = append(yielded, err)
	}
	suite.Equal([]error{boom}, yielded)
}

func (suite *StreamTestSuite) TestContextCancellation() {
	// GOAL: Verify Next honours its context without tearing the stream down
	//
	// TEST SCENARIO: Next on an empty stream with a short deadline → DeadlineExceeded → later push still delivered
	s, sink := New[int](Options{}, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	suite.ErrorIs(err, context.DeadlineExceeded)

	suite.True(sink.Push(7))
	v, err := s.Next(suite.ctx())
	suite.NoError(err)
	suite.Equal(7, v)
}

func (suite *StreamTestSuite) TestMap() {
	// GOAL: Verify Map transforms, filters and shares teardown with its parent
	//
	// TEST SCENARIO: Map ints to doubled evens → close the mapped stream → parent hook runs
	var closed atomic.Bool
	s, sink := New[int](Options{Capacity: 8}, func() { closed.Store(true) })
	m := Map(s, func(v int) (int, bool) { return v * 2, v%2 == 0 })

	for i := 0; i < 5; i++ {
		sink.Push(i)
	}
	sink.Finish()

	var got []int
	for v, err := range m.All(suite.ctx()) {
		suite.Require().NoError(err)
		got = append(got, v)
	}
	suite.Equal([]int{0, 4, 8}, got)

	_, err := m.Next(suite.ctx())
	suite.ErrorIs(err, io.EOF)

	m.Close()
	suite.True(closed.Load(), "closing a mapped stream MUST tear down the source")
}

func (suite *StreamTestSuite) TestParsePolicy() {
	p, err := ParsePolicy("drop-oldest")
	suite.NoError(err)
	suite.Equal(DropOldest, p)

	p, err = ParsePolicy("")
	suite.NoError(err)
	suite.Equal(Block, p)

	_, err = ParsePolicy("sometimes")
	suite.Error(err)
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}
