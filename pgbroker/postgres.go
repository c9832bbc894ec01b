package pgbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/erlorenz/pgsession/session"
)

// Postgres is a broker that uses PostgreSQL's LISTEN/NOTIFY for pub/sub,
// built on one shared session.Session rather than one dedicated *pgx.Conn
// per topic: every topic's LISTEN goes through the same session, and
// NotificationHub's channel-name map (inside session) does the
// multiplexing this package would otherwise need a topicListener per topic
// for.
//
// Postgres can distribute messages across multiple processes, but
// provides no durability - messages are lost if no subscribers are
// listening.
type Postgres struct {
	sess *session.Session

	mu       sync.RWMutex
	handlers map[string][]handler
	closed   bool
}

// handler represents a single subscriber's handler and context.
type handler struct {
	ctx    context.Context
	fn     func([]byte)
	cancel context.CancelFunc
}

// NewPostgres creates a new Postgres broker using the provided session. The
// session must remain open for the lifetime of the broker; Close does not
// close it, since it may be shared with other callers (e.g. kvstore).
func NewPostgres(sess *session.Session) *Postgres {
	return &Postgres{
		sess:     sess,
		handlers: make(map[string][]handler),
	}
}

// Publish sends a message to all subscribers of the topic across all
// processes, via pg_notify. Payload is limited to 8000 bytes, PostgreSQL's
// NOTIFY limit.
func (p *Postgres) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if len(payload) > 8000 {
		return errors.New("pubsub: payload exceeds PostgreSQL NOTIFY limit of 8000 bytes")
	}

	return p.sess.Submit("SELECT pg_notify($1, $2)", topic, string(payload)).Collect(func(session.ResultEvent) {})
}

// Subscribe registers a handler for topic. The first subscriber to a topic
// triggers a LISTEN on the shared session; later subscribers to the same
// topic share its delivery channel. The subscription remains active until
// ctx is canceled or Close is called.
func (p *Postgres) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	h := handler{ctx: handlerCtx, fn: fn, cancel: cancel}

	_, exists := p.handlers[topic]
	p.handlers[topic] = append(p.handlers[topic], h)
	p.mu.Unlock()

	if !exists {
		notifications, err := p.sess.Listen(topic)
		if err != nil {
			p.removeHandler(topic, h)
			cancel()
			return fmt.Errorf("failed to listen on topic %q: %w", topic, err)
		}
		go p.dispatch(topic, notifications)
	}

	go p.watchHandler(topic, h)

	return nil
}

// dispatch fans out every notification on ch to every handler currently
// registered for topic, until ch is closed (the session terminated).
func (p *Postgres) dispatch(topic string, ch <-chan session.NotifyMessage) {
	for n := range ch {
		p.mu.RLock()
		handlers := make([]handler, len(p.handlers[topic]))
		copy(handlers, p.handlers[topic])
		p.mu.RUnlock()

		payload := []byte(n.Payload)
		for _, h := range handlers {
			if h.ctx.Err() != nil {
				continue
			}
			go h.fn(payload)
		}
	}
}

// watchHandler monitors a handler's context and removes it when done.
func (p *Postgres) watchHandler(topic string, h handler) {
	<-h.ctx.Done()
	p.removeHandler(topic, h)
}

// removeHandler removes a specific handler from a topic.
func (p *Postgres) removeHandler(topic string, target handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handlers, exists := p.handlers[topic]
	if !exists {
		return
	}

	for i, h := range handlers {
		if h.ctx == target.ctx {
			p.handlers[topic] = append(handlers[:i], handlers[i+1:]...)
			h.cancel()
			break
		}
	}

	if len(p.handlers[topic]) == 0 {
		delete(p.handlers, topic)
	}
}

// Close marks the broker closed and cancels every handler's context. It
// does not close the underlying session, which the caller owns.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.closed = true

	for _, handlers := range p.handlers {
		for _, h := range handlers {
			h.cancel()
		}
	}
	p.handlers = make(map[string][]handler)

	return nil
}
