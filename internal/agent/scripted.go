package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferrolane/guild/internal/models"
)

// ScriptFunc is the behavior of a Scripted agent.
type ScriptFunc func(ctx context.Context, req Request) (models.AgentResult, error)

// Scripted is a deterministic in-process agent. The default roster runs
// offline this way, and engine tests drive revise/fail sequences through it.
type Scripted struct {
	capability string
	fn         ScriptFunc
}

// NewScripted builds an agent for one capability from a script function.
func NewScripted(capability string, fn ScriptFunc) *Scripted {
	return &Scripted{capability: capability, fn: fn}
}

// Capability returns the capability the agent serves.
func (s *Scripted) Capability() string { return s.capability }

// Execute runs the script. Cancellation wins over the script.
func (s *Scripted) Execute(ctx context.Context, req Request) (models.AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AgentResult{}, err
	}
	if s.fn == nil {
		return models.Success(""), nil
	}
	return s.fn(ctx, req)
}

// DefaultRoster returns scripted agents for every built-in capability, each
// producing a short structured summary payload so offline runs converge end
// to end.
func DefaultRoster() []*Scripted {
	succeed := func(stage, note string) *Scripted {
		return NewScripted(stage, func(_ context.Context, req Request) (models.AgentResult, error) {
			return models.Success(summarize(stage, req, note)), nil
		})
	}

	return []*Scripted{
		succeed(models.CapDesign, "layout and interaction notes"),
		succeed(models.CapAuthDesign, "authentication and session flow"),
		succeed(models.CapSchemaDesign, "relational schema and index plan"),
		succeed(models.CapImplement, "implementation complete"),
		succeed(models.CapTest, "test suite passing"),
		succeed(models.CapReview, "review passed"),
		succeed(models.CapAssessValue, "business value confirmed"),
		NewScripted(models.CapValidateSpec, validateSpecScript),
	}
}

// validateSpecScript is the built-in validate_spec behavior: it checks the
// feature it is handed and requests revision when the specification is too
// thin to act on.
func validateSpecScript(_ context.Context, req Request) (models.AgentResult, error) {
	if strings.TrimSpace(req.Feature.Description) == "" {
		return models.Revise(fmt.Sprintf("feature %s has no description", req.Feature.Name)), nil
	}
	return models.Success(fmt.Sprintf("specification complete for %s", req.Feature.Name)), nil
}

func summarize(stage string, req Request, note string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s for %s: %s", stage, req.Feature.Name, note)
	if len(req.Feature.Constraints) > 0 {
		fmt.Fprintf(&sb, " (constraints: %s)", strings.Join(req.Feature.Constraints, ", "))
	}
	if n := len(req.Task.Feedback); n > 0 {
		fmt.Fprintf(&sb, "; addressed %d prior review note(s)", n)
	}
	return sb.String()
}
