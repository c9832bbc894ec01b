// Package pgbroker is LISTEN/NOTIFY publish-subscribe built directly on a
// session.Session: Postgres.Subscribe drives session.Session.Listen rather
// than owning a dedicated connection per topic, so every topic a broker
// serves shares the one session's NotificationHub.
package pgbroker

import "errors"

// ErrClosed is returned when operations are attempted on a closed broker.
var ErrClosed = errors.New("pgbroker: broker is closed")
