package models

import "time"

// Process exit codes for a completed run.
const (
	ExitConverged       = 0
	ExitRejected        = 1
	ExitBudgetExhausted = 2
	ExitCancelled       = 3
)

// Failure causes recorded on reports and audit rows.
const (
	CauseRejected        = "feature_rejected"
	CauseBlocked         = "feature_blocked"
	CauseBudgetExhausted = "budget_exhausted"
	CauseCancelled       = "cancelled"
)

// TaskRecord is one audit entry: the outcome of dispatching one task during
// one iteration.
type TaskRecord struct {
	Iteration  int           `json:"iteration"`
	TaskID     string        `json:"task_id"`
	Capability string        `json:"capability"`
	Feature    string        `json:"feature"`
	Attempt    int           `json:"attempt"`
	Outcome    Outcome       `json:"outcome"`
	Detail     string        `json:"detail,omitempty"` // Payload, feedback or cause, per the outcome
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"` // When the controller applied the result
}

// FeatureOutcome is the terminal state of one feature at the end of a run.
type FeatureOutcome struct {
	Name   string        `json:"name"`
	Status FeatureStatus `json:"status"`
	Reason string        `json:"reason,omitempty"` // Last feedback or block/reject reason
}

// RunReport is the aggregate outcome of one orchestration run.
type RunReport struct {
	RunID      string           `json:"run_id"`
	Project    string           `json:"project"`
	Status     ProjectStatus    `json:"status"`
	Cause      string           `json:"cause,omitempty"` // Empty when converged
	Iterations int              `json:"iterations"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Features   []FeatureOutcome `json:"features"`
	Records    []TaskRecord     `json:"records"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
}

// ExitCode maps the report to the process exit code contract: 0 converged,
// 1 failed with a rejected feature, 2 iteration budget exhausted,
// 3 cancelled.
func (r *RunReport) ExitCode() int {
	if r.Status == ProjectConverged {
		return ExitConverged
	}
	switch r.Cause {
	case CauseCancelled:
		return ExitCancelled
	case CauseBudgetExhausted:
		return ExitBudgetExhausted
	default:
		return ExitRejected
	}
}
