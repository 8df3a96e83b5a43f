// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "enrollment_bridge"

// Event outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Metrics groups every collector the service records into.
type Metrics struct {
	Events        *prometheus.CounterVec
	Assignments   *prometheus.CounterVec
	GroupsCreated prometheus.Counter
	GroupsFull    prometheus.Counter
	Propagations  *prometheus.CounterVec
	SchedulerRuns *prometheus.CounterVec
	RemindersSent *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by source, kind and outcome.",
		}, []string{"source", "kind", "outcome"}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_assignments_total",
			Help:      "Group seat assignments by result.",
		}, []string{"result"}),
		GroupsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_created_total",
			Help:      "Groups opened because no existing group had a free seat.",
		}),
		GroupsFull: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_full_total",
			Help:      "Groups that reached capacity.",
		}),
		Propagations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_propagations_total",
			Help:      "Cross-platform propagations by kind and result.",
		}, []string{"kind", "result"}),
		SchedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled pass executions by pass and result.",
		}, []string{"pass", "result"}),
		RemindersSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminder messages delivered by kind.",
		}, []string{"kind"}),
	}
}

// NewNop returns collectors registered with a private registry. Used in tests
// and wherever metrics are not exported.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
