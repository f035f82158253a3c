package models

import (
	"encoding/json"
	"time"
)

// StepResult is the journaled outcome of one pipeline step for a run or
// document (§4.4). Data carries the step's typed output payload serialized
// as JSON; the step boundary is responsible for marshaling/unmarshaling it,
// no reflective deserialization happens downstream.
type StepResult struct {
	Step            StepName        `json:"step"`
	Status          RunStatus       `json:"status"`
	DurationSeconds float64         `json:"duration_seconds"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at,omitzero"`
	SummaryStats    map[string]int  `json:"summary_stats,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// NewRunningStepResult starts a step result with status=running.
func NewRunningStepResult(step StepName) *StepResult {
	return &StepResult{
		Step:      step,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

// Complete finalizes a step result as completed, computing its duration.
func (r *StepResult) Complete(stats map[string]int, data json.RawMessage) {
	r.Status = StatusCompleted
	r.CompletedAt = time.Now()
	r.DurationSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
	r.SummaryStats = stats
	r.Data = data
}

// Fail finalizes a step result as failed.
func (r *StepResult) Fail(err error) {
	r.Status = StatusFailed
	r.CompletedAt = time.Now()
	r.DurationSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// AggregateStepResults folds the per-document step results for a single step
// into the run-level aggregate (§4.4 aggregation rule): summed durations and
// counts, status completed iff all documents succeeded, failed iff any
// failed, else running.
func AggregateStepResults(step StepName, perDocument []*StepResult) *StepResult {
	agg := &StepResult{Step: step, SummaryStats: map[string]int{}}
	if len(perDocument) == 0 {
		agg.Status = StatusPending
		return agg
	}

	allCompleted := true
	anyFailed := false
	var earliestStart time.Time
	var latestComplete time.Time

	for i, r := range perDocument {
		if r == nil {
			allCompleted = false
			continue
		}
		agg.DurationSeconds += r.DurationSeconds
		for k, v := range r.SummaryStats {
			agg.SummaryStats[k] += v
		}
		if r.Status != StatusCompleted {
			allCompleted = false
		}
		if r.Status == StatusFailed {
			anyFailed = true
		}
		if i == 0 || r.StartedAt.Before(earliestStart) {
			earliestStart = r.StartedAt
		}
		if r.CompletedAt.After(latestComplete) {
			latestComplete = r.CompletedAt
		}
	}

	agg.StartedAt = earliestStart
	agg.CompletedAt = latestComplete

	switch {
	case anyFailed:
		agg.Status = StatusFailed
	case allCompleted:
		agg.Status = StatusCompleted
	default:
		agg.Status = StatusRunning
	}
	return agg
}
