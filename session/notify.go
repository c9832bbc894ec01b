package session

import (
	"context"
	"log/slog"
	"sync"
)

// notificationHub is the per-session mapping from channel name to
// subscriber. Inserts happen from the facade goroutine during Listen;
// removals and all reads happen from the loop goroutine, matching §5's
// ownership rule. No backpressure is applied to notifications: a slow
// subscriber buffers in its own channel or drops messages, the hub never
// blocks the loop waiting on one.
type notificationHub struct {
	mu        sync.Mutex
	listeners map[string]chan<- NotifyMessage
	logger    *slog.Logger
	metrics   Metrics
}

func newNotificationHub(logger *slog.Logger, metrics Metrics) *notificationHub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &notificationHub{listeners: make(map[string]chan<- NotifyMessage), logger: logger, metrics: metrics}
}

// register adds a subscriber for channel. Insertion happens-before the
// LISTEN submission that follows it in Facade.Listen, so the server can
// never deliver a notification the hub isn't yet ready to route.
func (h *notificationHub) register(channel string, ch chan<- NotifyMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[channel] = ch
}

func (h *notificationHub) hasListeners() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners) > 0
}

// pollIfNeeded short-circuits when there are no listeners at all, otherwise
// asks the connection for pending notifications biased by delta (positive
// while waiting for work, negative right after finishing an item) and
// dispatches each to its channel's subscriber. Notifications for a channel
// with no registered subscriber are logged and dropped, never surfaced as
// an error.
func (h *notificationHub) pollIfNeeded(ctx context.Context, conn connection, delta int) {
	if !h.hasListeners() {
		return
	}

	notifications, err := conn.pollNotifications(ctx, delta)
	if err != nil {
		h.logger.Warn("pgsession: notification poll failed", "err", err)
		return
	}

	for _, n := range notifications {
		h.mu.Lock()
		sub, ok := h.listeners[n.Channel]
		h.mu.Unlock()

		if !ok {
			h.logger.Debug("pgsession: notification on unknown channel dropped", "channel", n.Channel)
			h.metrics.NotificationDropped(n.Channel)
			continue
		}

		select {
		case sub <- n:
			h.metrics.NotificationDelivered(n.Channel)
		default:
			h.logger.Warn("pgsession: subscriber channel full, notification dropped", "channel", n.Channel)
			h.metrics.NotificationDropped(n.Channel)
		}
	}
}

// closeAll closes every registered subscriber channel. Called once, by the
// loop, as the session terminates.
func (h *notificationHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, ch := range h.listeners {
		close(ch)
		delete(h.listeners, channel)
	}
}
