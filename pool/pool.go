// Package pool seizes physical connections from a pgxpool.Pool and wraps
// each one in a session.Session, giving callers the Session Execution
// Engine's goroutine-bound submission API instead of pgxpool's
// acquire-one-connection-per-call model.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erlorenz/pgsession/session"
)

// Metrics is the narrow observability capability Pool and the Sessions it
// hands out report lifecycle, work-item, and notification events through. A
// nil Metrics is valid: every method becomes a no-op. It embeds
// session.Metrics so the same collector instruments both pool-level
// (session opened/closed) and session-level (work items, COPY, LISTEN)
// events.
type Metrics interface {
	session.Metrics
	SessionOpened()
	SessionClosed(kind string)
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()               {}
func (noopMetrics) SessionClosed(string)         {}
func (noopMetrics) WorkItemDispatched(string)    {}
func (noopMetrics) CopyCompleted(int64)          {}
func (noopMetrics) CopyFailed()                  {}
func (noopMetrics) NotificationDelivered(string) {}
func (noopMetrics) NotificationDropped(string)   {}

// Pool seizes connections from an underlying pgxpool.Pool and hands out
// sessions built on top of them.
type Pool struct {
	conns   *pgxpool.Pool
	logger  *slog.Logger
	metrics Metrics

	pollWait time.Duration

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the *slog.Logger sessions and the pool itself log
// through. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics wires a Metrics collector. Defaults to a no-op.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithNotificationPollWait overrides the wait each session's notification
// poll uses between iterations. Defaults to session.LoopWait.
func WithNotificationPollWait(d time.Duration) Option {
	return func(p *Pool) { p.pollWait = d }
}

// New wraps conns. conns must already be open (pgxpool.New/NewWithConfig).
func New(conns *pgxpool.Pool, opts ...Option) *Pool {
	p := &Pool{
		conns:    conns,
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		sessions: make(map[*session.Session]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire seizes one physical connection and returns a Session bound to it
// for its entire lifetime. The caller owns the Session: call Close when
// done, and drain Done() to observe its terminal error.
func (p *Pool) Acquire(ctx context.Context) (*session.Session, error) {
	conn, err := p.conns.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	handle := session.NewConnectionHandle(conn.Conn(), p.pollWait, conn.Release)
	s := session.New(handle, p, session.WithLogger(p.logger), session.WithMetrics(p.metrics))

	p.mu.Lock()
	p.sessions[s] = struct{}{}
	p.mu.Unlock()
	p.metrics.SessionOpened()

	go p.watch(s)

	return s, nil
}

// watch removes s from the active set and reports its terminal error kind
// once its loop exits.
func (p *Pool) watch(s *session.Session) {
	terminal := <-s.Done()

	p.mu.Lock()
	delete(p.sessions, s)
	p.mu.Unlock()

	kind := ""
	switch terminal.(type) {
	case nil:
	case *session.ConnectionLostError:
		kind = "ConnectionLost"
	case *session.InternalError:
		kind = "Internal"
	case *session.SessionClosedError:
		kind = "SessionClosed"
	default:
		kind = "Unknown"
	}
	p.metrics.SessionClosed(kind)
}

// ActiveSessions reports how many sessions currently hold a seized
// connection. Used by poolhttp's status endpoint.
func (p *Pool) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// EvictIdle closes every active session whose IdleSince exceeds
// session.MaxIdle, giving external effect to the otherwise-unenforced
// constant (Design Notes, Open Question b).
func (p *Pool) EvictIdle() {
	p.mu.Lock()
	stale := make([]*session.Session, 0)
	for s := range p.sessions {
		if time.Since(s.IdleSince()) > session.MaxIdle {
			stale = append(stale, s)
		}
	}
	p.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
}

// Close closes the underlying pgxpool.Pool. It does not wait for sessions
// acquired from it to finish; callers are expected to Close and drain each
// session themselves first.
func (p *Pool) Close() {
	p.conns.Close()
}

// NewQuery implements session.QueryFactory. Pool itself does no query
// rewriting; it exists purely to give Session a capability narrower than
// the whole Pool (breaking the session<->pool cycle).
func (p *Pool) NewQuery(sql string, params ...any) session.Query {
	return session.Query{SQL: sql, Params: params}
}
