package agent

import (
	"context"

	"github.com/ferrolane/guild/internal/models"
)

// Request carries everything an agent may look at for one dispatch. All
// fields are copies: agents never see shared model state, they return an
// immutable result and the controller applies it.
type Request struct {
	Task    models.Task    // The task being dispatched, feedback included
	Feature models.Feature // Owning feature at dispatch time
	Project string         // Project name
	Stack   models.TechStack
}

// Agent is the single capability contract every worker implements. Execute
// must honor ctx cancellation and the deadline the caller set; a deadline
// overrun surfaces as a context error, which the engine treats as a hard
// task failure.
type Agent interface {
	Capability() string
	Execute(ctx context.Context, req Request) (models.AgentResult, error)
}
