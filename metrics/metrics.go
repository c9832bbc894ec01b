// Package metrics collects Prometheus observations about the session pool:
// active sessions, work items processed by kind, COPY rows ingested, and
// notification deliveries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric pgsession exposes.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsOpened  prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	workItemsTotal  *prometheus.CounterVec
	copyRowsTotal   prometheus.Counter
	copyFailures    prometheus.Counter
	notifyDelivered *prometheus.CounterVec
	notifyDropped   *prometheus.CounterVec
}

// New creates and registers every metric on a fresh registry. Safe to call
// more than once (e.g. per test) since each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgsession_sessions_active",
			Help: "Number of sessions currently owning a physical connection.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgsession_sessions_opened_total",
			Help: "Total number of sessions created.",
		}),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsession_sessions_closed_total",
				Help: "Total number of sessions terminated, by terminal error kind.",
			},
			[]string{"kind"},
		),
		workItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsession_work_items_total",
				Help: "Work items dispatched by the session loop, by kind.",
			},
			[]string{"kind"},
		),
		copyRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgsession_copy_rows_total",
			Help: "Total rows ingested across all completed COPY operations.",
		}),
		copyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgsession_copy_failures_total",
			Help: "Total COPY operations that failed mid-stream.",
		}),
		notifyDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsession_notifications_delivered_total",
				Help: "LISTEN/NOTIFY messages delivered to a subscriber, by channel.",
			},
			[]string{"channel"},
		),
		notifyDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsession_notifications_dropped_total",
				Help: "LISTEN/NOTIFY messages dropped (no subscriber or subscriber full), by channel.",
			},
			[]string{"channel"},
		),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsOpened,
		c.sessionsClosed,
		c.workItemsTotal,
		c.copyRowsTotal,
		c.copyFailures,
		c.notifyDelivered,
		c.notifyDropped,
	)

	return c
}

// SessionOpened records a session coming online.
func (c *Collector) SessionOpened() {
	c.sessionsOpened.Inc()
	c.sessionsActive.Inc()
}

// SessionClosed records a session terminating with the given terminal error
// kind ("" for a clean close).
func (c *Collector) SessionClosed(kind string) {
	c.sessionsActive.Dec()
	c.sessionsClosed.WithLabelValues(kind).Inc()
}

// WorkItemDispatched records one dispatched item of the given kind
// ("query", "copy", "rollback", "poison").
func (c *Collector) WorkItemDispatched(kind string) {
	c.workItemsTotal.WithLabelValues(kind).Inc()
}

// CopyCompleted records a successful COPY's row count.
func (c *Collector) CopyCompleted(rows int64) {
	c.copyRowsTotal.Add(float64(rows))
}

// CopyFailed records a COPY that failed mid-stream.
func (c *Collector) CopyFailed() {
	c.copyFailures.Inc()
}

// NotificationDelivered records a successful delivery on channel.
func (c *Collector) NotificationDelivered(channel string) {
	c.notifyDelivered.WithLabelValues(channel).Inc()
}

// NotificationDropped records a dropped notification on channel.
func (c *Collector) NotificationDropped(channel string) {
	c.notifyDropped.WithLabelValues(channel).Inc()
}
