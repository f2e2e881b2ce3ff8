package domain

import "time"

// Outcome classifies a finished job run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// JobRun is one append-only audit row per job execution attempt. Rows are
// never mutated after completion.
type JobRun struct {
	ID          int64
	Job         string
	RunID       string
	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     Outcome
	Summary     string
	Error       string
}
