package types

import "time"

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

const (
	SkipNotRunning = "scheduler_not_running"
	SkipOverlap    = "previous_firing_running"
)

// Execution is one trigger firing. It is never persisted.
type Execution struct {
	ID         string        `json:"id"`
	Trigger    TriggerKey    `json:"trigger"`
	JobName    string        `json:"job_name"`
	RunID      string        `json:"run_id,omitempty"`
	FiredAt    time.Time     `json:"fired_at"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (e Execution) Succeeded() bool {
	return e.Outcome == OutcomeSucceeded
}
