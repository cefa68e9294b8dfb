package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ferrolane/guild/internal/models"
)

// Exit codes recognized from exec agent commands.
const (
	exitRevise        = 2 // command requests a revision attempt
	exitUnrecoverable = 3 // command reports an unrecoverable failure
)

// ExecAgent dispatches a task to an external command. Task context is passed
// through GUILD_* environment variables and the command's combined output
// becomes the result detail. Exit 0 reports success, exit 2 requests
// revision, exit 3 fails unrecoverably, any other exit fails recoverably.
type ExecAgent struct {
	capability string
	command    []string
	timeout    time.Duration // 0 = caller's deadline only
}

// NewExecAgent builds an exec-backed agent for a capability. command is the
// argv run once per dispatch.
func NewExecAgent(capability string, command []string, timeout time.Duration) *ExecAgent {
	return &ExecAgent{capability: capability, command: command, timeout: timeout}
}

// Capability returns the capability the agent serves.
func (e *ExecAgent) Capability() string { return e.capability }

// Execute runs the command under the caller's deadline, tightened by the
// agent's own timeout when one is configured.
func (e *ExecAgent) Execute(ctx context.Context, req Request) (models.AgentResult, error) {
	if len(e.command) == 0 {
		return models.AgentResult{}, fmt.Errorf("exec agent %s: empty command", e.capability)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Env = append(os.Environ(), taskEnv(req)...)

	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))

	// A deadline or cancellation kills the process; surface the context
	// error so the engine classifies it rather than the exit status.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.AgentResult{}, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case exitRevise:
				return models.Revise(text), nil
			case exitUnrecoverable:
				return models.Fail(failureText(text, exitErr), false), nil
			default:
				return models.Fail(failureText(text, exitErr), true), nil
			}
		}
		return models.AgentResult{}, fmt.Errorf("exec agent %s: %w", e.capability, err)
	}

	return models.Success(text), nil
}

// taskEnv builds the GUILD_* environment for one dispatch.
func taskEnv(req Request) []string {
	env := []string{
		"GUILD_PROJECT=" + req.Project,
		"GUILD_FEATURE=" + req.Feature.Name,
		"GUILD_FEATURE_DESCRIPTION=" + req.Feature.Description,
		"GUILD_CONSTRAINTS=" + strings.Join(req.Feature.Constraints, ","),
		"GUILD_TASK_ID=" + req.Task.ID,
		"GUILD_CAPABILITY=" + req.Task.Capability,
		"GUILD_ATTEMPT=" + strconv.Itoa(req.Task.Attempt),
	}
	if len(req.Task.Feedback) > 0 {
		env = append(env, "GUILD_FEEDBACK="+strings.Join(req.Task.Feedback, "\n"))
	}
	return env
}

func failureText(text string, err error) string {
	if text != "" {
		return text
	}
	return err.Error()
}
