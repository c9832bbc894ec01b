package session

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
)

// execFlags modifies how Execute frames a statement.
type execFlags uint8

// SuppressBegin tells Execute not to prepend its own implicit BEGIN. The
// loop always passes it (see Design Notes, Open Question a): the loop
// itself issues BEGIN exactly once per transaction, immediately before the
// first item dispatched while IDLE, so ConnectionHandle never needs its own
// auto-begin heuristic for session-owned work. Without it, execute issues
// BEGIN itself whenever the connection is IDLE.
const SuppressBegin execFlags = 1 << 0

// connection is the capability SessionLoop needs from a physical
// connection. It is the Go mapping of spec's "Connection capability
// required (external collaborator)." ConnectionHandle is the real
// implementation; fakeConn (in the test files) exercises the loop's
// dispatch logic without a server.
type connection interface {
	execute(ctx context.Context, q Query, sink *resultSink, batchSize int, flags execFlags)
	rollback(ctx context.Context) error
	begin(ctx context.Context) error
	transactionState(ctx context.Context) (TransactionState, error)
	pollNotifications(ctx context.Context, bias int) ([]NotifyMessage, error)
	copyFromReader(ctx context.Context, sql string, src io.Reader) (int64, error)
	copyFromChunks(ctx context.Context, sql string, chunks <-chan []byte) (int64, error)
	close(ctx context.Context) error
	release()
	closed() bool
}

// ConnectionHandle is the thin facade over a real *pgx.Conn: execute, rollback, poll notifications, report transaction
// state. Only SessionLoop ever calls it, and only from its own goroutine.
type ConnectionHandle struct {
	conn     *pgx.Conn
	pollWait time.Duration
	onClose  func()
}

// NewConnectionHandle wraps conn. onClose, if non-nil, is invoked once the
// handle is done with the connection (release(), not close()) — Pool uses
// it to return the connection to pgxpool instead of destroying it.
func NewConnectionHandle(conn *pgx.Conn, pollWait time.Duration, onClose func()) *ConnectionHandle {
	if pollWait <= 0 {
		pollWait = LoopWait
	}
	return &ConnectionHandle{conn: conn, pollWait: pollWait, onClose: onClose}
}

func (c *ConnectionHandle) execute(ctx context.Context, q Query, sink *resultSink, batchSize int, flags execFlags) {
	if flags&SuppressBegin == 0 {
		state, err := c.transactionState(ctx)
		if err != nil {
			sink.error(err)
			return
		}
		if state == Idle {
			if err := c.begin(ctx); err != nil {
				sink.error(err)
				return
			}
		}
	}

	rows, err := c.conn.Query(ctx, q.SQL, q.Params...)
	if err != nil {
		sink.error(&ServerError{Query: q.SQL, Err: err})
		return
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if len(fields) > 0 {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}
		sink.next(ResultEvent{RowDescription: &RowDescription{Columns: names}})
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			sink.error(&ServerError{Query: q.SQL, Err: err})
			return
		}
		sink.next(ResultEvent{DataRow: &DataRow{Values: vals}})
		_ = batchSize // batching is at the wire-fetch level; not modeled here, see Open Question (c)
	}

	if err := rows.Err(); err != nil {
		sink.error(&ServerError{Query: q.SQL, Err: err})
		return
	}

	tag := rows.CommandTag()
	sink.next(ResultEvent{CommandStatus: &CommandStatus{
		Command:     tag.String(),
		UpdateCount: tag.RowsAffected(),
		InsertCount: tag.RowsAffected(),
	}})
	sink.complete()
}

func (c *ConnectionHandle) rollback(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "ROLLBACK")
	return err
}

func (c *ConnectionHandle) begin(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "BEGIN")
	return err
}

// transactionState reads the server's wire-protocol transaction status
// directly (pgconn.PgConn.TxStatus), so there is no client-side state to
// keep in sync with the server.
func (c *ConnectionHandle) transactionState(ctx context.Context) (TransactionState, error) {
	switch c.conn.PgConn().TxStatus() {
	case 'I':
		return Idle, nil
	case 'T':
		return Open, nil
	case 'E':
		return Failed, nil
	default:
		return Idle, nil
	}
}

func (c *ConnectionHandle) pollNotifications(ctx context.Context, bias int) ([]NotifyMessage, error) {
	wait := time.Duration(0)
	if bias > 0 {
		wait = c.pollWait
	}
	pctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var out []NotifyMessage
	for {
		n, err := c.conn.WaitForNotification(pctx)
		if err != nil {
			if pctx.Err() != nil {
				return out, nil
			}
			return out, err
		}
		out = append(out, NotifyMessage{Channel: n.Channel, Payload: n.Payload, BackendPID: n.PID})
	}
}

// copyFromReader implements the buffered COPY strategy: the caller has
// already concatenated the binary preamble onto the user payload via
// io.MultiReader (see copy.go); this just forwards to the wire protocol.
func (c *ConnectionHandle) copyFromReader(ctx context.Context, sql string, src io.Reader) (int64, error) {
	tag, err := c.conn.PgConn().CopyFrom(ctx, src, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// copyFromChunks implements the streaming COPY strategy by bridging the
// push-style chunk channel to the pull-style io.Reader CopyFrom expects,
// via io.Pipe. See copy.go for the goroutine that feeds the pipe.
func (c *ConnectionHandle) copyFromChunks(ctx context.Context, sql string, chunks <-chan []byte) (int64, error) {
	pr, pw := io.Pipe()
	go feedCopyPipe(ctx, pw, chunks)

	tag, err := c.conn.PgConn().CopyFrom(ctx, pr, sql)
	if err != nil {
		pr.CloseWithError(err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *ConnectionHandle) close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *ConnectionHandle) release() {
	if c.onClose != nil {
		c.onClose()
	}
}

// closed reports whether the underlying wire connection has already been
// torn down (e.g. by a fatal network error), which is how the loop decides
// between releasing and closing on an internal failure — see
// Session.terminateConn.
func (c *ConnectionHandle) closed() bool {
	return c.conn.IsClosed()
}

var _ connection = (*ConnectionHandle)(nil)
