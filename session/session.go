// Package session implements the Session Execution Engine: a goroutine-
// bound wrapper around one physical PostgreSQL connection that accepts
// asynchronous work submissions, drives the connection's transactional
// state machine, and streams results and notifications back to callers
// through backpressured, single-subscriber Streams.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// LoopWait is the bounded wait the loop's work-queue dequeue uses between
// iterations, and the default wait of the notification poll (the pollWait
// given to NewConnectionHandle overrides the latter).
const LoopWait = 100 * time.Millisecond

// MaxIdle is declared for the owning Pool's benefit (external idle
// eviction); the core itself never terminates a session for being idle
// (Design Notes, Open Question b).
const MaxIdle = 10 * time.Minute

// Metrics is the narrow observability capability a Session reports
// work-item, COPY, and notification events through. A nil Metrics is valid:
// Session substitutes a no-op. *metrics.Collector implements this by
// structural typing; session never imports the metrics package.
type Metrics interface {
	WorkItemDispatched(kind string)
	CopyCompleted(rows int64)
	CopyFailed()
	NotificationDelivered(channel string)
	NotificationDropped(channel string)
}

type noopMetrics struct{}

func (noopMetrics) WorkItemDispatched(string)    {}
func (noopMetrics) CopyCompleted(int64)          {}
func (noopMetrics) CopyFailed()                  {}
func (noopMetrics) NotificationDelivered(string) {}
func (noopMetrics) NotificationDropped(string)   {}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger sets the *slog.Logger the session and its notification hub log
// through. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics wires a Metrics collector. Defaults to a no-op.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session owns one seized physical connection end-to-end, including
// transaction framing, from the moment its loop goroutine starts until it
// returns.
type Session struct {
	conn    connection
	factory QueryFactory
	logger  *slog.Logger
	metrics Metrics

	workqueue *workQueue
	notify    *notificationHub

	accepting atomic.Bool

	// done fires exactly once, carrying the terminal SessionError (nil on a
	// clean close), the Go mapping of txnStateSignal.
	done     chan SessionError
	closeGen atomic.Bool // guards close()'s poison-enqueue idempotence

	idleSince atomic.Int64 // unix nanos, observational only (Open Question b)
}

// New creates a Session bound to conn and starts its loop goroutine.
// factory is the narrow capability used to fabricate Query values.
func New(conn connection, factory QueryFactory, opts ...Option) *Session {
	s := &Session{
		conn:      conn,
		factory:   factory,
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		workqueue: newWorkQueue(),
		done:      make(chan SessionError, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.notify = newNotificationHub(s.logger, s.metrics)
	s.accepting.Store(true)
	s.idleSince.Store(time.Now().UnixNano())
	go s.run(context.Background())
	return s
}

// Done returns the channel the session's terminal SessionError (or nil, on
// a clean shutdown) is delivered to. It fires at most once.
func (s *Session) Done() <-chan SessionError {
	return s.done
}

// IdleSince reports when the session last finished a work item. Pool uses
// this against MaxIdle to decide when to evict a session; the core itself
// never acts on it.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.idleSince.Load())
}

func (s *Session) touchIdle() {
	s.idleSince.Store(time.Now().UnixNano())
}
