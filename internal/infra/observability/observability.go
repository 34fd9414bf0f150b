// Package observability exposes Prometheus metrics for the scoring
// engine, the collections scheduler, and the conversation controller.
// Served on /metrics by the API server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Scoring Metrics ────────────────────────────────────────────────────────

// ScoreRecomputations tracks total score recomputations.
var ScoreRecomputations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "scoring",
	Name:      "recomputations_total",
	Help:      "Total khata score recomputations performed.",
})

// ScoreRecomputeFailures tracks recomputations that failed.
var ScoreRecomputeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "scoring",
	Name:      "recompute_failures_total",
	Help:      "Total khata score recomputations that failed.",
})

// ScoreDistribution tracks the distribution of stored scores.
var ScoreDistribution = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "khata",
	Subsystem: "scoring",
	Name:      "score",
	Help:      "Distribution of smoothed khata scores after recomputation.",
	Buckets:   []float64{300, 400, 500, 550, 600, 700, 800, 900},
})

// ─── Collections Metrics ────────────────────────────────────────────────────

// RemindersSent tracks reminders sent by channel.
var RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "collections",
	Name:      "reminders_sent_total",
	Help:      "Total collection reminders sent by channel.",
}, []string{"channel"})

// Escalations tracks escalations by level.
var Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "collections",
	Name:      "escalations_total",
	Help:      "Total invoice escalations by reminder level.",
}, []string{"level"})

// SendFailures tracks delivery attempts that came back failed.
var SendFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "collections",
	Name:      "send_failures_total",
	Help:      "Total reminder deliveries that failed.",
})

// PassDuration tracks how long one scheduler pass takes.
var PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "khata",
	Subsystem: "collections",
	Name:      "pass_duration_seconds",
	Help:      "Duration of one collections scheduler pass.",
	Buckets:   prometheus.DefBuckets,
})

// VersionConflicts tracks optimistic-concurrency conflicts on invoices.
var VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "collections",
	Name:      "version_conflicts_total",
	Help:      "Total invoice updates that hit a version conflict.",
})

// ─── Conversation Metrics ───────────────────────────────────────────────────

// IntentsClassified tracks classified inbound intents.
var IntentsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "conversation",
	Name:      "intents_total",
	Help:      "Total classified inbound customer intents.",
}, []string{"intent"})

// VoiceTurns tracks processed voice conversation turns.
var VoiceTurns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "conversation",
	Name:      "voice_turns_total",
	Help:      "Total voice conversation turns processed.",
})
