package pgbroker_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/erlorenz/pgsession/pgbroker"
	"github.com/erlorenz/pgsession/session"
)

// plainFactory builds Query values with no rewriting, mirroring pool.Pool's
// trivial NewQuery implementation.
type plainFactory struct{}

func (plainFactory) NewQuery(sql string, params ...any) session.Query {
	return session.Query{SQL: sql, Params: params}
}

// newBrokerSession starts a disposable PostgreSQL container and returns a
// session.Session bound to a dedicated *pgx.Conn against it; the container
// is terminated via t.Cleanup. Grounded on session/integration_test.go's own testcontainers
// setup.
func newBrokerSession(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, connStr)
	require.NoError(t, err)

	handle := session.NewConnectionHandle(conn, 50*time.Millisecond, func() { _ = conn.Close(context.Background()) })
	return session.New(handle, plainFactory{})
}

func TestPostgresPublishSubscribe(t *testing.T) {
	sess := newBrokerSession(t)
	defer sess.Close()

	broker := pgbroker.NewPostgres(sess)
	defer broker.Close()

	received := make(chan []byte, 1)
	err := broker.Subscribe(context.Background(), "widget_events", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	// Give the LISTEN time to register on the server before publishing.
	time.Sleep(100 * time.Millisecond)

	err = broker.Publish(context.Background(), "widget_events", []byte("created:42"))
	require.NoError(t, err)

	select {
	case payload := <-received:
		require.Equal(t, "created:42", string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestPostgresMultipleSubscribersSameTopic(t *testing.T) {
	sess := newBrokerSession(t)
	defer sess.Close()

	broker := pgbroker.NewPostgres(sess)
	defer broker.Close()

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)

	require.NoError(t, broker.Subscribe(context.Background(), "fanout", func(p []byte) { first <- p }))
	require.NoError(t, broker.Subscribe(context.Background(), "fanout", func(p []byte) { second <- p }))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, broker.Publish(context.Background(), "fanout", []byte("hello")))

	for _, ch := range []chan []byte{first, second} {
		select {
		case payload := <-ch:
			require.Equal(t, "hello", string(payload))
		case <-time.After(5 * time.Second):
			t.Fatal("message never arrived at one of the subscribers")
		}
	}
}

func TestPostgresSubscribeCanceledContextRemovesHandler(t *testing.T) {
	sess := newBrokerSession(t)
	defer sess.Close()

	broker := pgbroker.NewPostgres(sess)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	require.NoError(t, broker.Subscribe(ctx, "cancel_me", func([]byte) { called <- struct{}{} }))

	cancel()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, broker.Publish(context.Background(), "cancel_me", []byte("ignored")))

	select {
	case <-called:
		t.Fatal("handler fired after its context was canceled")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestPostgresPublishAfterCloseReturnsErrClosed(t *testing.T) {
	sess := newBrokerSession(t)
	defer sess.Close()

	broker := pgbroker.NewPostgres(sess)
	require.NoError(t, broker.Close())

	err := broker.Publish(context.Background(), "whatever", []byte("x"))
	require.ErrorIs(t, err, pgbroker.ErrClosed)

	err = broker.Subscribe(context.Background(), "whatever", func([]byte) {})
	require.ErrorIs(t, err, pgbroker.ErrClosed)
}

func TestPostgresPublishPayloadTooLarge(t *testing.T) {
	sess := newBrokerSession(t)
	defer sess.Close()

	broker := pgbroker.NewPostgres(sess)
	defer broker.Close()

	oversized := make([]byte, 8001)
	err := broker.Publish(context.Background(), "whatever", oversized)
	require.Error(t, err)
}
