package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/models"
)

const tracerName = "guild/engine"

// dispatchOutcome is one agent result on its way back to the controller.
// Either result or err is meaningful, never both.
type dispatchOutcome struct {
	taskID   string
	result   models.AgentResult
	err      error
	duration time.Duration
}

// dispatcher fans ready tasks out to their agents under a concurrency cap
// and a per-task timeout. Agents receive value copies of task and feature
// state; results flow back over a channel and only the controller applies
// them.
type dispatcher struct {
	registry *agent.Registry
	logger   Logger
	limit    int
	timeout  time.Duration
}

// run dispatches the given tasks and blocks until every launched dispatch
// has reported back. Cancellation stops further launches; outcomes already
// in flight drain into the returned slice and the controller decides
// whether to apply them.
func (d *dispatcher) run(ctx context.Context, rc *RunContext, tasks []*models.Task) []dispatchOutcome {
	resultsCh := make(chan dispatchOutcome, len(tasks))
	semaphore := make(chan struct{}, d.limit)
	var wg sync.WaitGroup

	launched := 0
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			goto launchComplete
		case semaphore <- struct{}{}:
		}

		req := agent.Request{
			Task:    *t,
			Project: rc.Project.Name,
			Stack:   rc.Project.Stack,
		}
		if f := rc.Project.Feature(t.Feature); f != nil {
			req.Feature = *f
		}

		wg.Add(1)
		launched++
		d.logger.LogDebug(fmt.Sprintf("dispatching %s (%s, attempt %d)", t.ID, t.Capability, t.Attempt))

		go func(req agent.Request) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsCh <- d.dispatchOne(ctx, req)
		}(req)
	}

launchComplete:
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	outcomes := make([]dispatchOutcome, 0, launched)
	for outcome := range resultsCh {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// dispatchOne resolves and executes one agent under the per-task deadline.
func (d *dispatcher) dispatchOne(ctx context.Context, req agent.Request) dispatchOutcome {
	started := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "task.dispatch", trace.WithAttributes(
		attribute.String("task.id", req.Task.ID),
		attribute.String("task.capability", req.Task.Capability),
		attribute.String("task.feature", req.Task.Feature),
		attribute.Int("task.attempt", req.Task.Attempt),
	))
	defer span.End()

	a, ok := d.registry.Resolve(req.Task.Capability)
	if !ok {
		// Graph building checks capabilities up front; reaching this means
		// the registry changed mid-run.
		err := &UnboundCapabilityError{TaskID: req.Task.ID, Capability: req.Task.Capability}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dispatchOutcome{taskID: req.Task.ID, err: err, duration: time.Since(started)}
	}

	taskCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	span.AddEvent("task.dispatched")
	result, err := a.Execute(taskCtx, req)
	duration := time.Since(started)

	if err != nil {
		// Distinguish this task overrunning its own deadline from the whole
		// run being torn down.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = NewTimeoutError(req.Task.ID, d.timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dispatchOutcome{taskID: req.Task.ID, err: err, duration: duration}
	}

	span.AddEvent("task." + string(result.Outcome))
	span.SetStatus(codes.Ok, "")
	return dispatchOutcome{taskID: req.Task.ID, result: result, duration: duration}
}
