package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// encodeBinaryRow encodes one (id, name) tuple in PostgreSQL's binary COPY
// row format: a field count, then each field as a 4-byte length followed by
// its raw bytes.
func encodeBinaryRow(id int32, name string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int16(2))

	binary.Write(&buf, binary.BigEndian, int32(4))
	binary.Write(&buf, binary.BigEndian, id)

	nameBytes := []byte(name)
	binary.Write(&buf, binary.BigEndian, int32(len(nameBytes)))
	buf.Write(nameBytes)

	return buf.Bytes()
}

// binaryCopyTrailer is the binary COPY format's end-of-data marker: a field
// count of -1.
func binaryCopyTrailer() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int16(-1))
	return buf.Bytes()
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// newIntegrationSession starts a disposable PostgreSQL container and returns
// a Session bound to a single dedicated *pgx.Conn against it; the container
// is terminated via t.Cleanup. Grounded on the corpus's own testcontainers setup pattern
// (tarsy's database/client_test.go): one container per test, torn down via
// t.Cleanup.
func newIntegrationSession(t *testing.T) *Session {
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

	handle := NewConnectionHandle(conn, 50*time.Millisecond, func() { _ = conn.Close(context.Background()) })
	return New(handle, fakeFactory{})
}

// TestIntegrationBufferedCopyRoundTrip: a buffered COPY round-trips real rows through the wire protocol.
func TestIntegrationBufferedCopyRoundTrip(t *testing.T) {
	s := newIntegrationSession(t)
	defer s.Close()

	err := s.Submit("CREATE TABLE widgets (id INT, name TEXT)").Collect(func(ResultEvent) {})
	require.NoError(t, err)

	var payload []byte
	payload = append(payload, encodeBinaryRow(1, "alpha")...)
	payload = append(payload, encodeBinaryRow(2, "beta")...)
	payload = append(payload, binaryCopyTrailer()...)

	copyStream := s.CopyFromReader("COPY widgets (id, name) FROM STDIN (FORMAT binary)", bytesReader(payload))
	ev := <-copyStream.C()
	require.NoError(t, ev.Err)
	require.Equal(t, int64(2), ev.Val)

	var count int
	countStream := s.Submit("SELECT COUNT(*) FROM widgets")
	var rows []DataRow
	err = countStream.Collect(func(re ResultEvent) {
		if re.DataRow != nil {
			rows = append(rows, *re.DataRow)
		}
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	count = int(rows[0].Values[0].(int64))
	require.Equal(t, 2, count)
}

// TestIntegrationListenDeliversNotification: LISTEN delivers a NOTIFY payload sent from a second connection.
func TestIntegrationListenDeliversNotification(t *testing.T) {
	s := newIntegrationSession(t)
	defer s.Close()

	notifications, err := s.Listen("widget_events")
	require.NoError(t, err)

	err = s.Submit("SELECT pg_notify('widget_events', 'created:42')").Collect(func(ResultEvent) {})
	require.NoError(t, err)

	select {
	case n := <-notifications:
		require.Equal(t, "widget_events", n.Channel)
		require.Equal(t, "created:42", n.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}
