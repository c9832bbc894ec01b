package session

import (
	"context"
	"testing"
)

type stubConn struct {
	connection
	notifications []NotifyMessage
	pollErr       error
}

func (c *stubConn) pollNotifications(ctx context.Context, bias int) ([]NotifyMessage, error) {
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	out := c.notifications
	c.notifications = nil
	return out, nil
}

func TestNotificationHubSkipsPollWithNoListeners(t *testing.T) {
	h := newNotificationHub(nil, nil)
	conn := &stubConn{notifications: []NotifyMessage{{Channel: "x"}}}
	h.pollIfNeeded(context.Background(), conn, +1)
	if len(conn.notifications) != 1 {
		t.Fatal("want poll skipped entirely when there are no listeners")
	}
}

func TestNotificationHubDeliversToRegisteredChannel(t *testing.T) {
	h := newNotificationHub(nil, nil)
	ch := make(chan NotifyMessage, 1)
	h.register("topic", ch)

	conn := &stubConn{notifications: []NotifyMessage{{Channel: "topic", Payload: "hi"}}}
	h.pollIfNeeded(context.Background(), conn, +1)

	select {
	case got := <-ch:
		if got.Payload != "hi" {
			t.Fatalf("want payload %q, got %q", "hi", got.Payload)
		}
	default:
		t.Fatal("want a delivered notification")
	}
}

func TestNotificationHubDropsUnknownChannel(t *testing.T) {
	h := newNotificationHub(nil, nil)
	ch := make(chan NotifyMessage, 1)
	h.register("topic", ch)

	conn := &stubConn{notifications: []NotifyMessage{{Channel: "other"}}}
	h.pollIfNeeded(context.Background(), conn, +1)

	select {
	case got := <-ch:
		t.Fatalf("want nothing delivered, got %+v", got)
	default:
	}
}

func TestNotificationHubDropsWhenSubscriberFull(t *testing.T) {
	h := newNotificationHub(nil, nil)
	ch := make(chan NotifyMessage) // unbuffered, no reader
	h.register("topic", ch)

	conn := &stubConn{notifications: []NotifyMessage{{Channel: "topic"}}}
	h.pollIfNeeded(context.Background(), conn, +1) // must not block
}

func TestNotificationHubCloseAll(t *testing.T) {
	h := newNotificationHub(nil, nil)
	ch := make(chan NotifyMessage, 1)
	h.register("topic", ch)

	h.closeAll()

	_, ok := <-ch
	if ok {
		t.Fatal("want channel closed")
	}
}
