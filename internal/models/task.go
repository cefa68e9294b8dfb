package models

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle status of a single task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// Capability identifiers understood by the built-in roster. Explicit task
// declarations may name other capabilities as long as an agent is registered
// for them.
const (
	CapDesign       = "design"
	CapAuthDesign   = "auth_design"
	CapSchemaDesign = "schema_design"
	CapImplement    = "implement"
	CapTest         = "test"
	CapReview       = "review"
	CapAssessValue  = "assess_value"
	CapValidateSpec = "validate_spec"
)

// Task is one capability-scoped unit of work belonging to a feature. Tasks
// are one-shot: a failed task is never rerun in place, remediation appends a
// replacement node instead, so the task set stays an auditable history.
type Task struct {
	ID          string     // Unique id: "<feature>/<capability>", "#n" suffix for remediation attempts
	Capability  string     // Capability required to execute the task
	Feature     string     // Owning feature name (lookup only, never ownership)
	DependsOn   []string   // Predecessor task ids
	Status      TaskStatus // Lifecycle status
	Attempt     int        // 1-based attempt number for this capability
	Feedback    []string   // Accumulated feedback from prior failed attempts
	StartedAt   *time.Time // Set when dispatched
	CompletedAt *time.Time // Set when a result was applied
}

// TaskID builds the canonical id for a feature's capability task.
func TaskID(feature, capability string) string {
	return feature + "/" + capability
}

// RemediationID builds the id for a remediation attempt beyond the first.
func RemediationID(feature, capability string, attempt int) string {
	return fmt.Sprintf("%s/%s#%d", feature, capability, attempt)
}

// DependsOnTask reports whether the task lists the given id as a predecessor.
func (t *Task) DependsOnTask(id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// Validate checks the fields every task must carry.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Capability == "" {
		return fmt.Errorf("task %s: capability is required", t.ID)
	}
	if t.Feature == "" {
		return fmt.Errorf("task %s: owning feature is required", t.ID)
	}
	return nil
}
