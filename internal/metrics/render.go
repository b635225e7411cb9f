// Package metrics provides Prometheus metrics for the render orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No job ids, user ids or session ids in labels.

var (
	// JobAdmitTotal counts admitted jobs by owner class (user, session, anonymous).
	JobAdmitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_job_admit_total",
		Help: "Total number of admitted render jobs, by owner class.",
	}, []string{"owner_class"})

	// JobRejectTotal counts rejected submissions by reason.
	JobRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_job_reject_total",
		Help: "Total number of rejected render submissions, by reason.",
	}, []string{"reason"})

	// JobTerminalTotal counts jobs reaching a terminal state.
	JobTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_job_terminal_total",
		Help: "Total number of render jobs reaching a terminal state, by state and last stage.",
	}, []string{"state", "stage"})

	// StageDuration observes wall time per stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderd_stage_duration_seconds",
		Help:    "Wall time of render pipeline stages, by stage and outcome.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
	}, []string{"stage", "outcome"})

	// ProcessSpawnTotal counts child process spawns.
	ProcessSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_process_spawn_total",
		Help: "Total number of child process spawns, by stage and result.",
	}, []string{"stage", "result"})

	// CleanupFailureTotal counts artifact cleanup failures.
	CleanupFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_cleanup_failure_total",
		Help: "Total number of failed scratch cleanups, by terminal state.",
	}, []string{"state"})

	// MirrorFailureTotal counts failed writes to durable mirrors.
	MirrorFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderd_mirror_failure_total",
		Help: "Total number of failed mirror notifications, by sink.",
	}, []string{"sink"})

	// MirrorDroppedTotal counts notifications dropped because the queue was full.
	MirrorDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "renderd_mirror_dropped_total",
		Help: "Total number of progress notifications dropped on a full queue.",
	})

	// ActiveJobs tracks non-terminal jobs by stage ("pending", "rendering", "encoding").
	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "renderd_active_jobs",
		Help: "Current number of non-terminal render jobs, by stage.",
	}, []string{"stage"})

	// RetainedJobs tracks records held in memory, terminal or not.
	RetainedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "renderd_retained_jobs",
		Help: "Current number of job records held in memory.",
	})
)

// RecordAdmit increments the admission counter.
func RecordAdmit(ownerClass string) {
	JobAdmitTotal.WithLabelValues(ownerClass).Inc()
}

// RecordReject increments the rejection counter.
func RecordReject(reason string) {
	JobRejectTotal.WithLabelValues(reason).Inc()
}

// RecordTerminal increments the terminal counter.
func RecordTerminal(state, stage string) {
	if stage == "" {
		stage = "none"
	}
	JobTerminalTotal.WithLabelValues(state, stage).Inc()
}

// ObserveStage records the duration of a finished stage.
func ObserveStage(stage, outcome string, d time.Duration) {
	StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// RecordProcessSpawn increments the spawn counter.
// result: "ok", "error" or "not_found"
func RecordProcessSpawn(stage, result string) {
	ProcessSpawnTotal.WithLabelValues(stage, result).Inc()
}

// RecordCleanupFailure increments the cleanup failure counter.
func RecordCleanupFailure(state string) {
	CleanupFailureTotal.WithLabelValues(state).Inc()
}

// RecordMirrorFailure increments the mirror failure counter for a sink.
func RecordMirrorFailure(sink string) {
	MirrorFailureTotal.WithLabelValues(sink).Inc()
}

// RecordMirrorDropped increments the dropped notification counter.
func RecordMirrorDropped() {
	MirrorDroppedTotal.Inc()
}

// IncActiveJobs increments the active gauge for a stage.
func IncActiveJobs(stage string) {
	ActiveJobs.WithLabelValues(stage).Inc()
}

// DecActiveJobs decrements the active gauge for a stage.
func DecActiveJobs(stage string) {
	ActiveJobs.WithLabelValues(stage).Dec()
}

// SetRetainedJobs sets the retained records gauge.
func SetRetainedJobs(n int) {
	RetainedJobs.Set(float64(n))
}

// GetActiveJobs returns the current value of the active gauge (for testing).
func GetActiveJobs(stage string) float64 {
	var m dto.Metric
	if err := ActiveJobs.WithLabelValues(stage).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
