package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferrolane/guild/internal/resolver"
)

// CycleError reports a dependency cycle found while building the task graph.
// Graph construction is fatal on cycles; no partial graph is returned.
type CycleError struct {
	Path []string // task ids along the cycle, entry node repeated last
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnboundCapabilityError reports a task whose capability has no registered
// agent. Raised during graph building, before any dispatch.
type UnboundCapabilityError struct {
	TaskID     string
	Capability string
}

// Error implements the error interface for UnboundCapabilityError.
func (e *UnboundCapabilityError) Error() string {
	return fmt.Sprintf("task %s: no agent registered for capability %q", e.TaskID, e.Capability)
}

// ConflictError carries the resolver mismatches that blocked a feature
// before its implementation task could be scheduled.
type ConflictError struct {
	Feature   string
	Conflicts []resolver.Conflict
}

// Error implements the error interface for ConflictError.
func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("feature %s blocked by dependency conflicts: %s",
		e.Feature, strings.Join(parts, "; "))
}

// TimeoutError reports a task that overran the per-task deadline. Timeouts
// are hard failures: the run continues but the task is not remediated.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

// NewTimeoutError creates a TimeoutError for one task.
func NewTimeoutError(taskID string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{TaskID: taskID, Timeout: timeout}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: timeout after %v", e.TaskID, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded so errors.Is reports the timeout.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// AgentFailureError reports an unrecoverable agent failure. It carries
// everything a caller needs to see about the failing task: id, capability,
// attempt count and the feedback trail that led here.
type AgentFailureError struct {
	TaskID     string
	Capability string
	Feature    string
	Attempt    int
	Cause      string
	Feedback   []string
}

// Error implements the error interface for AgentFailureError.
func (e *AgentFailureError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "task %s (%s) failed on attempt %d: %s",
		e.TaskID, e.Capability, e.Attempt, e.Cause)
	if n := len(e.Feedback); n > 0 {
		fmt.Fprintf(&sb, " (last feedback: %s)", e.Feedback[n-1])
	}
	return sb.String()
}

// IsCycle checks if the error is or wraps a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsUnboundCapability checks if the error is or wraps an
// UnboundCapabilityError.
func IsUnboundCapability(err error) bool {
	var ue *UnboundCapabilityError
	return errors.As(err, &ue)
}

// IsConflict checks if the error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTimeout checks if the error is or wraps a TimeoutError or
// context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAgentFailure checks if the error is or wraps an AgentFailureError.
func IsAgentFailure(err error) bool {
	var ae *AgentFailureError
	return errors.As(err, &ae)
}
