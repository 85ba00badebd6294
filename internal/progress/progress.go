// Package progress implements C8: pure functions computing overall job
// progress and statistics from per-stage state. Nothing here mutates
// state or touches storage.
package progress

import (
	"forensic-pipeline/internal/model"
)

// Stats is the aggregate progress view returned for status queries and
// webhook payloads (spec §4.8).
type Stats struct {
	CompletedCount            int      `json:"completed_count"`
	RunningCount               int      `json:"running_count"`
	PendingCount               int      `json:"pending_count"`
	ProgressPercentage         float64  `json:"progress_percentage"`
	TotalDurationSeconds       float64  `json:"total_duration_seconds"`
	EstimatedRemainingSeconds  *float64 `json:"estimated_remaining_seconds,omitempty"`
}

// Compute folds over a job's stages (spec's six-stage canonical list)
// and derives the aggregate statistics.
func Compute(stages []model.Stage) Stats {
	total := len(stages)
	var completed, running, pending int
	var totalDuration float64
	var completedDurations []float64

	for _, s := range stages {
		switch s.Status {
		case model.StageCompleted:
			completed++
			d := s.Duration().Seconds()
			totalDuration += d
			completedDurations = append(completedDurations, d)
		case model.StageRunning:
			running++
		case model.StagePending:
			pending++
		}
	}

	pct := 0.0
	if total > 0 {
		pct = (float64(completed) + 0.5*float64(running)) / float64(total) * 100
	}

	stats := Stats{
		CompletedCount:       completed,
		RunningCount:         running,
		PendingCount:         pending,
		ProgressPercentage:   pct,
		TotalDurationSeconds: totalDuration,
	}

	if len(completedDurations) > 0 {
		mean := totalDuration / float64(len(completedDurations))
		remaining := mean * float64(pending)
		stats.EstimatedRemainingSeconds = &remaining
	}

	return stats
}
