package session

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// The happy-path query streams RowDescription, DataRow, CommandStatus, then
// completes with no error.
func TestSubmitHappyPath(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(conn)
	defer s.Close()

	var events []ResultEvent
	stream := s.Submit("SELECT 1")
	if err := stream.Collect(func(ev ResultEvent) { events = append(events, ev) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("want 3 onNext events, got %d", len(events))
	}
	if events[0].RowDescription == nil {
		t.Fatal("want RowDescription first")
	}
	if events[1].DataRow == nil {
		t.Fatal("want DataRow second")
	}
	if events[2].CommandStatus == nil || events[2].CommandStatus.Command != "SELECT" {
		t.Fatal("want CommandStatus third")
	}
}

// Once a transaction is open, a graceful Close rolls back exactly once
// and the session reports a clean (nil) terminal error.
func TestCloseRollsBackOpenTransaction(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(conn)

	stream := s.Submit("INSERT INTO t VALUES (1)")
	if err := stream.Collect(func(ResultEvent) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Close()

	select {
	case terminal := <-s.Done():
		if terminal != nil {
			t.Fatalf("want clean close, got %v", terminal)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}

	if conn.rollbackCalls != 1 {
		t.Fatalf("want 1 rollback, got %d", conn.rollbackCalls)
	}
	if conn.releaseCalls != 1 {
		t.Fatalf("want 1 release, got %d", conn.releaseCalls)
	}
}

// Submit after Close fails synchronously, with no work item ever built.
func TestSubmitAfterCloseFailsSynchronously(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(conn)
	s.Close()
	<-s.Done()

	stream := s.Submit("SELECT 1")
	err := stream.Collect(func(ResultEvent) {})
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("want ErrSessionNotActive, got %v", err)
	}
}

// A streaming COPY that fails mid-stream is fatal to the session: its
// own stream surfaces a CopyFailureError, the session stops accepting work,
// and a subsequent Submit fails synchronously.
func TestStreamingCopyMidStreamErrorClosesSession(t *testing.T) {
	conn := newFakeConn()
	wantCause := errors.New("connection reset by peer")
	conn.copyChunksFn = func(sql string, chunks <-chan []byte) (int64, error) {
		<-chunks // one tuple delivered successfully
		for range chunks {
		} // drain whatever the producer still sends before giving up
		return 0, wantCause
	}
	s := newTestSession(conn)

	chunks := make(chan []byte, 1)
	chunks <- []byte("tuple-1")
	close(chunks)

	copyStream := s.CopyFromChunks("COPY t FROM STDIN (FORMAT binary)", chunks)
	ev := <-copyStream.C()
	if !ev.Done || ev.Err == nil {
		t.Fatalf("want a terminal error event, got %+v", ev)
	}
	var copyErr *CopyFailureError
	if !errors.As(ev.Err, &copyErr) {
		t.Fatalf("want *CopyFailureError, got %T: %v", ev.Err, ev.Err)
	}

	select {
	case terminal := <-s.Done():
		var closedErr *SessionClosedError
		if !errors.As(terminal, &closedErr) {
			t.Fatalf("want *SessionClosedError terminal, got %v", terminal)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not terminate after copy failure")
	}

	sub := s.Submit("SELECT 1")
	subErr := sub.Collect(func(ResultEvent) {})
	if !errors.Is(subErr, ErrSessionNotActive) {
		t.Fatalf("want ErrSessionNotActive after copy failure, got %v", subErr)
	}
	if conn.rollbackCalls != 1 {
		t.Fatalf("want 1 rollback on copy failure, got %d", conn.rollbackCalls)
	}
}

// Buffered COPY succeeds end to end and reports the row count the
// connection returns.
func TestCopyFromReaderSuccess(t *testing.T) {
	conn := newFakeConn()
	conn.copyReaderFn = func(sql string, src io.Reader) (int64, error) {
		buf, err := io.ReadAll(src)
		if err != nil {
			return 0, err
		}
		if len(buf) < len(binaryCopyPreamble) {
			t.Fatalf("want preamble prepended, got %d bytes", len(buf))
		}
		for i, b := range binaryCopyPreamble {
			if buf[i] != b {
				t.Fatalf("preamble mismatch at byte %d", i)
			}
		}
		return 3, nil
	}
	s := newTestSession(conn)
	defer s.Close()

	stream := s.CopyFromReader("COPY t FROM STDIN (FORMAT binary)", bytes.NewReader([]byte("payload")))
	ev := <-stream.C()
	if ev.Err != nil {
		t.Fatalf("unexpected error: %v", ev.Err)
	}
	if ev.Val != 3 {
		t.Fatalf("want row count 3, got %d", ev.Val)
	}
}
