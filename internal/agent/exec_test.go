package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ferrolane/guild/internal/models"
)

// writeScript writes an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("Failed to create test script: %v", err)
	}
	return path
}

func TestExecAgentSuccess(t *testing.T) {
	script := writeScript(t, t.TempDir(), "ok.sh", `echo "implementation complete"
exit 0
`)

	a := NewExecAgent("implement", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Errorf("Outcome = %s, want %s", result.Outcome, models.OutcomeSuccess)
	}
	if result.Payload != "implementation complete" {
		t.Errorf("Payload = %q", result.Payload)
	}
}

func TestExecAgentReviseExitCode(t *testing.T) {
	script := writeScript(t, t.TempDir(), "revise.sh", `echo "missing error handling in login flow"
exit 2
`)

	a := NewExecAgent("review", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Outcome != models.OutcomeRevise {
		t.Errorf("Outcome = %s, want %s", result.Outcome, models.OutcomeRevise)
	}
	if !strings.Contains(result.Feedback, "missing error handling") {
		t.Errorf("Feedback = %q, want the script output", result.Feedback)
	}
}

func TestExecAgentUnrecoverableExitCode(t *testing.T) {
	script := writeScript(t, t.TempDir(), "fatal.sh", `echo "toolchain not installed"
exit 3
`)

	a := NewExecAgent("test", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Outcome != models.OutcomeFail {
		t.Errorf("Outcome = %s, want %s", result.Outcome, models.OutcomeFail)
	}
	if result.Recoverable {
		t.Error("exit 3 should be unrecoverable")
	}
	if !strings.Contains(result.Cause, "toolchain not installed") {
		t.Errorf("Cause = %q", result.Cause)
	}
}

func TestExecAgentOtherExitCodeRecoverable(t *testing.T) {
	script := writeScript(t, t.TempDir(), "flaky.sh", `exit 1
`)

	a := NewExecAgent("test", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Outcome != models.OutcomeFail {
		t.Errorf("Outcome = %s, want %s", result.Outcome, models.OutcomeFail)
	}
	if !result.Recoverable {
		t.Error("exit 1 should be recoverable")
	}
	if result.Cause == "" {
		t.Error("Cause should fall back to the exit error when output is empty")
	}
}

func TestExecAgentTaskEnvironment(t *testing.T) {
	script := writeScript(t, t.TempDir(), "env.sh", `echo "$GUILD_PROJECT|$GUILD_FEATURE|$GUILD_TASK_ID|$GUILD_CAPABILITY|$GUILD_ATTEMPT|$GUILD_CONSTRAINTS"
exit 0
`)

	a := NewExecAgent("design", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{
		Task: models.Task{
			ID:         "checkout/design",
			Capability: "design",
			Feature:    "checkout",
			Attempt:    1,
		},
		Feature: models.Feature{
			Name:        "checkout",
			Constraints: []string{"secure_login", "business_critical"},
		},
		Project: "WebShop",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := "WebShop|checkout|checkout/design|design|1|secure_login,business_critical"
	if result.Payload != want {
		t.Errorf("Payload = %q, want %q", result.Payload, want)
	}
}

func TestExecAgentFeedbackEnvironment(t *testing.T) {
	script := writeScript(t, t.TempDir(), "feedback.sh", `echo "$GUILD_FEEDBACK"
exit 0
`)

	a := NewExecAgent("implement", []string{script}, 0)
	result, err := a.Execute(context.Background(), Request{
		Task: models.Task{
			ID:       "checkout/implement#1",
			Feedback: []string{"validate totals", "handle empty carts"},
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Payload, "validate totals") || !strings.Contains(result.Payload, "handle empty carts") {
		t.Errorf("GUILD_FEEDBACK should carry every accumulated note, got %q", result.Payload)
	}
}

func TestExecAgentTimeout(t *testing.T) {
	script := writeScript(t, t.TempDir(), "slow.sh", `sleep 5
exit 0
`)

	a := NewExecAgent("implement", []string{script}, 50*time.Millisecond)

	start := time.Now()
	_, err := a.Execute(context.Background(), Request{})
	if err == nil {
		t.Fatal("Execute should fail when the command overruns the agent timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("command was not killed promptly, took %v", elapsed)
	}
}

func TestExecAgentCancelledContext(t *testing.T) {
	script := writeScript(t, t.TempDir(), "slow.sh", `sleep 5
exit 0
`)

	a := NewExecAgent("implement", []string{script}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := a.Execute(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestExecAgentEmptyCommand(t *testing.T) {
	a := NewExecAgent("design", nil, 0)
	if _, err := a.Execute(context.Background(), Request{}); err == nil {
		t.Error("empty command should be an error")
	}
}

func TestExecAgentMissingBinary(t *testing.T) {
	a := NewExecAgent("design", []string{"/nonexistent/guild-agent-binary"}, 0)
	if _, err := a.Execute(context.Background(), Request{}); err == nil {
		t.Error("unlaunchable command should be an error, not a result")
	}
}
