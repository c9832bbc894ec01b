package session

import "context"

// run is the SessionLoop: the single consumer goroutine that owns conn for
// the lifetime of the session. No other goroutine may call a connection
// primitive; every exit path below releases the connection (or, on a lost
// connection, closes it) and fires done exactly once.
func (s *Session) run(ctx context.Context) {
	var terminal SessionError
	txnOpen := false

	defer func() {
		s.notify.closeAll()
		s.workqueue.stop()
		s.done <- terminal
		close(s.done)
	}()

	for {
		item, ok := s.workqueue.pop(LoopWait)
		if ok {
			s.notify.pollIfNeeded(ctx, s.conn, +1)

			if done, err := s.dispatch(ctx, item, &txnOpen); done {
				terminal = err
				return
			}

			s.notify.pollIfNeeded(ctx, s.conn, -1)
			s.touchIdle()
		} else {
			// No item: still poll, so server-pushed notifications keep
			// flowing even when the session is otherwise quiet.
			s.notify.pollIfNeeded(ctx, s.conn, +1)
		}

		// Step 3 of §4.2 runs unconditionally, whether or not an item was
		// just dispatched: a FAILED state discovered between items must
		// terminate the session (invariant 7) before any item already
		// sitting in the queue gets dispatched, not only once the queue
		// happens to run dry.
		if done, err := s.inspectState(ctx, &txnOpen); done {
			terminal = err
			return
		}
	}
}

// inspectState is the loop's post-item/post-poll transaction-state check
// (§4.2 step 3): FAILED terminates the session and fails every pending
// item; an OPEN transaction with no more work and a closed session rolls
// back; IDLE only clears txnOpen (Open Question a).
func (s *Session) inspectState(ctx context.Context, txnOpen *bool) (bool, SessionError) {
	state, err := s.conn.transactionState(ctx)
	if err != nil {
		return true, s.terminateConn(ctx, err)
	}

	switch state {
	case Failed:
		s.accepting.Store(false)
		s.failPending()
		s.conn.release()
		return true, &SessionClosedError{}
	case Open:
		if !s.accepting.Load() && s.workqueue.empty() {
			if err := s.conn.rollback(ctx); err != nil {
				return true, s.terminateConn(ctx, err)
			}
			*txnOpen = false
		}
	case Idle:
		// An implicit idle-after-item never terminates the session on its
		// own (Design Notes, Open Question a). The previous transaction has
		// ended (e.g. by an explicit COMMIT), so the next item gets a fresh
		// BEGIN from beginIfIdle.
		*txnOpen = false
	}
	return false, nil
}

// dispatch handles exactly one item and reports whether the loop must
// terminate, and with what terminal error (nil on a clean close). txnOpen
// tracks whether the loop has already issued BEGIN for the current
// transaction (Design Notes, Open Question a).
func (s *Session) dispatch(ctx context.Context, item workItem, txnOpen *bool) (done bool, terminal SessionError) {
	switch it := item.(type) {

	case poisonItem:
		s.metrics.WorkItemDispatched("poison")
		state, err := s.conn.transactionState(ctx)
		if err != nil {
			return true, s.terminateConn(ctx, err)
		}
		if state != Idle {
			if err := s.conn.rollback(ctx); err != nil {
				return true, s.terminateConn(ctx, err)
			}
		}
		s.conn.release()
		return true, nil

	case rollbackItem:
		s.metrics.WorkItemDispatched("rollback")
		err := s.conn.rollback(ctx)
		if it.done != nil {
			it.done <- err
		}
		s.conn.release()
		return true, nil

	case copyItem:
		s.metrics.WorkItemDispatched("copy")
		if err := s.beginIfIdle(ctx, txnOpen); err != nil {
			it.sink.error(err)
			s.metrics.CopyFailed()
			return s.failCopy(ctx, err)
		}
		rows, err := runCopy(ctx, s.conn, it.sql, it.source)
		if err != nil {
			it.sink.error(&CopyFailureError{Err: err})
			s.metrics.CopyFailed()
			return s.failCopy(ctx, err)
		}
		it.sink.complete(rows)
		s.metrics.CopyCompleted(rows)
		return false, nil

	case queryItem:
		s.metrics.WorkItemDispatched("query")
		if err := s.beginIfIdle(ctx, txnOpen); err != nil {
			it.sink.error(err)
			return false, nil
		}
		s.conn.execute(ctx, it.query, it.sink, 0, SuppressBegin)
		return false, nil

	default:
		return false, nil
	}
}

// beginIfIdle issues BEGIN exactly once per transaction, immediately before
// the first item dispatched while the connection is IDLE — the resolution
// of Open Question (a): the session, not the connection layer, owns
// transactional framing. Callers then pass SuppressBegin to Execute so the
// connection layer never double-begins.
func (s *Session) beginIfIdle(ctx context.Context, txnOpen *bool) error {
	if *txnOpen {
		return nil
	}
	state, err := s.conn.transactionState(ctx)
	if err != nil {
		return &InternalError{Err: err}
	}
	if state != Idle {
		*txnOpen = true
		return nil
	}
	if err := s.conn.begin(ctx); err != nil {
		return &InternalError{Err: err}
	}
	*txnOpen = true
	return nil
}

// failCopy implements "a COPY failure is fatal to the session": rollback,
// stop accepting new work, and terminate as SessionClosed for whatever is
// still queued behind it.
func (s *Session) failCopy(ctx context.Context, cause error) (bool, SessionError) {
	s.accepting.Store(false)
	_ = s.conn.rollback(ctx)
	s.failPending()
	s.conn.release()
	return true, &SessionClosedError{Err: cause}
}

// terminateConn classifies a loop-level error and tears the connection down
// accordingly: ConnectionLost (close, per spec's error table) if the wire
// connection is already dead, Internal (release) otherwise.
func (s *Session) terminateConn(ctx context.Context, err error) SessionError {
	if s.conn.closed() {
		_ = s.conn.close(ctx)
		return &ConnectionLostError{Err: err}
	}
	s.conn.release()
	return &InternalError{Err: err}
}

// failPending drains the work queue, failing every item still sitting in it
// with ErrSessionClosed, the SessionClosedWithPending error kind.
func (s *Session) failPending() {
	for _, item := range s.workqueue.drainAll() {
		switch it := item.(type) {
		case queryItem:
			it.sink.error(ErrSessionClosed)
		case copyItem:
			it.sink.error(ErrSessionClosed)
		case rollbackItem:
			if it.done != nil {
				it.done <- ErrSessionClosed
			}
		}
	}
}
