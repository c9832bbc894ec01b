package session

import "io"

// Submit enqueues a query for execution and returns a cold Stream of its
// result events. The returned Stream is single-subscriber: the work item is
// enqueued the first time its channel is consumed (Stream.C or Collect),
// not when Submit returns.
//
// If the session is no longer accepting work, Submit fails synchronously
// with ErrSessionNotActive — no work item is ever built.
func (s *Session) Submit(sql string, params ...any) *Stream[ResultEvent] {
	if !s.accepting.Load() {
		return failedStream[ResultEvent](ErrSessionNotActive)
	}
	return newStream(func() <-chan Event[ResultEvent] {
		sink := newResultSink()
		q := s.factory.NewQuery(sql, params...)
		s.workqueue.push(queryItem{query: q, sink: sink})
		return sink.ch
	})
}

// CopyFromChunks runs a COPY IN whose payload is supplied lazily, one chunk
// at a time, over chunks. The engine writes the binary preamble first, then
// forwards each chunk in order until chunks is closed. chunks carries no
// error: the producer cannot report a failure through it, and a producer
// that stops sending without closing chunks leaves the COPY, and with it
// the session loop, blocked, since the engine has no independent timeout.
// The returned Stream emits exactly one value: the row count the server
// reports at COPY completion.
func (s *Session) CopyFromChunks(sql string, chunks <-chan []byte) *Stream[int64] {
	if !s.accepting.Load() {
		return failedStream[int64](ErrSessionNotActive)
	}
	return newStream(func() <-chan Event[int64] {
		sink := newRowCountSink()
		s.workqueue.push(copyItem{sql: sql, source: copySource{chunks: chunks}, sink: sink})
		return sink.ch
	})
}

// CopyFromReader runs a COPY IN whose payload is a buffered io.Reader. The
// engine prepends the fixed binary preamble and streams the logical
// concatenation without buffering the whole payload in memory.
func (s *Session) CopyFromReader(sql string, src io.Reader) *Stream[int64] {
	if !s.accepting.Load() {
		return failedStream[int64](ErrSessionNotActive)
	}
	return newStream(func() <-chan Event[int64] {
		sink := newRowCountSink()
		s.workqueue.push(copyItem{sql: sql, source: copySource{buffered: src}, sink: sink})
		return sink.ch
	})
}

// Listen registers a subscriber for channel and submits "LISTEN <channel>".
// The returned channel is closed when the session terminates. If the
// LISTEN submission itself fails, err is non-nil, but the channel is not
// closed or unregistered at that point: it stays open until the session
// terminates, like every other subscriber channel. Delivery is best-effort
// per-channel FIFO relative to poll order — see notificationHub.
func (s *Session) Listen(channel string) (<-chan NotifyMessage, error) {
	if !s.accepting.Load() {
		return nil, ErrSessionNotActive
	}

	ch := make(chan NotifyMessage, listenBufferSize)
	// Registration happens-before the LISTEN submission below, so the
	// server can never deliver on this channel before the hub can route it.
	s.notify.register(channel, ch)

	stream := s.Submit("LISTEN " + quoteIdentifier(channel))
	if err := stream.Collect(func(ResultEvent) {}); err != nil {
		return ch, err
	}
	return ch, nil
}

// listenBufferSize bounds a channel's notification backlog; notifications
// are dropped (with a warning, see notificationHub.pollIfNeeded) once full,
// per spec's "no backpressure is applied to notifications."
const listenBufferSize = 64

// Close idempotently stops accepting new work and enqueues the poison item.
// In-flight items run to completion; Close does not wait for the session's
// loop goroutine to exit (use Done for that).
func (s *Session) Close() {
	if s.closeGen.Swap(true) {
		return
	}
	s.accepting.Store(false)
	s.workqueue.push(poisonItem{})
}
