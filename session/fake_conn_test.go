package session

import (
	"context"
	"io"
	"sync"
)

// fakeConn is a scriptable connection used to exercise the session loop's
// dispatch logic without a real server, at the unit-test level.
type fakeConn struct {
	mu sync.Mutex

	state TransactionState

	// execFn, when set, is called by execute instead of the default (which
	// emits a single RowDescription/DataRow/CommandStatus sequence and
	// transitions state to Open if it was Idle).
	execFn func(q Query, sink *resultSink)

	rollbackCalls int
	beginCalls    int
	releaseCalls  int
	closeCalls    int

	notifications []NotifyMessage

	copyReaderFn func(sql string, src io.Reader) (int64, error)
	copyChunksFn func(sql string, chunks <-chan []byte) (int64, error)

	isClosed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{state: Idle}
}

func (c *fakeConn) execute(ctx context.Context, q Query, sink *resultSink, batchSize int, flags execFlags) {
	c.mu.Lock()
	fn := c.execFn
	c.mu.Unlock()

	if fn != nil {
		fn(q, sink)
		return
	}

	sink.next(ResultEvent{RowDescription: &RowDescription{Columns: []string{"col"}}})
	sink.next(ResultEvent{DataRow: &DataRow{Values: []any{1}}})
	sink.next(ResultEvent{CommandStatus: &CommandStatus{Command: "SELECT", UpdateCount: 1}})

	c.mu.Lock()
	if c.state == Idle {
		c.state = Open
	}
	c.mu.Unlock()

	sink.complete()
}

func (c *fakeConn) rollback(ctx context.Context) error {
	c.mu.Lock()
	c.rollbackCalls++
	c.state = Idle
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) begin(ctx context.Context) error {
	c.mu.Lock()
	c.beginCalls++
	c.state = Open
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) transactionState(ctx context.Context) (TransactionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *fakeConn) setState(s TransactionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeConn) pollNotifications(ctx context.Context, bias int) ([]NotifyMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notifications
	c.notifications = nil
	return out, nil
}

func (c *fakeConn) pushNotification(n NotifyMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
}

func (c *fakeConn) copyFromReader(ctx context.Context, sql string, src io.Reader) (int64, error) {
	if c.copyReaderFn != nil {
		return c.copyReaderFn(sql, src)
	}
	_, err := io.ReadAll(src)
	return 0, err
}

func (c *fakeConn) copyFromChunks(ctx context.Context, sql string, chunks <-chan []byte) (int64, error) {
	if c.copyChunksFn != nil {
		return c.copyChunksFn(sql, chunks)
	}
	var n int64
	for range chunks {
		n++
	}
	return n, nil
}

func (c *fakeConn) close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.isClosed = true
	return nil
}

func (c *fakeConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCalls++
}

func (c *fakeConn) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

var _ connection = (*fakeConn)(nil)

// fakeFactory fabricates Query values without a pool.
type fakeFactory struct{}

func (fakeFactory) NewQuery(sql string, params ...any) Query {
	return Query{SQL: sql, Params: params}
}

func newTestSession(conn connection) *Session {
	return New(conn, fakeFactory{})
}
