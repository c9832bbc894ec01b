package session

import "sync"

// Event envelopes one value emitted by a Stream. Exactly one of Val (for an
// onNext event) or the terminal pair (Err, Done) is meaningful on any given
// Event; Done is always true on the last Event a Stream ever sends.
type Event[T any] struct {
	Val  T
	Err  error
	Done bool
}

// Stream is the Go re-expression of the source's backpressured, single-
// subscriber, cold Publisher<T>: constructing one only builds a descriptor,
// and the underlying work item is enqueued the first time the stream is
// consumed (C is called), never at construction time. Every Stream sends
// zero or more onNext Events followed by exactly one terminal Event, then
// closes its channel — the Go mapping of "a work item's sink receives
// exactly one terminal event, and only after all onNext events."
type Stream[T any] struct {
	once  sync.Once
	start func() <-chan Event[T]
	ch    <-chan Event[T]
}

func newStream[T any](start func() <-chan Event[T]) *Stream[T] {
	return &Stream[T]{start: start}
}

// failedStream returns an already-terminated Stream carrying err, used when
// a submission is rejected before any work item could be built (e.g. the
// session is not accepting).
func failedStream[T any](err error) *Stream[T] {
	ch := make(chan Event[T], 1)
	ch <- Event[T]{Err: err, Done: true}
	close(ch)
	return newStream(func() <-chan Event[T] { return ch })
}

// C triggers the stream's subscription side effect exactly once and returns
// the channel of emitted values. Delivery runs on a goroutine distinct from
// the session's loop goroutine (see sink.go), matching the "independent I/O
// scheduler" requirement.
func (s *Stream[T]) C() <-chan Event[T] {
	s.once.Do(func() { s.ch = s.start() })
	return s.ch
}

// Collect consumes the stream to completion, calling fn for every onNext
// value and returning the terminal error, if any. It is a convenience
// wrapper around C for callers that don't need to interleave other work
// with consumption.
func (s *Stream[T]) Collect(fn func(T)) error {
	for ev := range s.C() {
		if ev.Done {
			return ev.Err
		}
		fn(ev.Val)
	}
	return nil
}
