package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/models"
	"github.com/ferrolane/guild/internal/resolver"
)

// Logger receives run progress events. Implementations must be safe for
// concurrent use: the controller logs from its own goroutine, dispatches log
// from workers.
type Logger interface {
	LogRunStart(project string, features, tasks int)
	LogIterationStart(iteration, budget int)
	LogIterationComplete(iteration int, duration time.Duration)
	LogTaskResult(rec models.TaskRecord) error
	LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string)
	LogProgress(tasks []*models.Task)
	LogSummary(report *models.RunReport)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// AuditSink persists run history as it happens. Sink failures are logged and
// never fail the run.
type AuditSink interface {
	BeginRun(runID string, p *models.Project, startedAt time.Time) error
	RecordTask(runID string, rec models.TaskRecord) error
	FinishRun(runID string, report *models.RunReport) error
}

type nopLogger struct{}

func (nopLogger) LogRunStart(string, int, int)              {}
func (nopLogger) LogIterationStart(int, int)                {}
func (nopLogger) LogIterationComplete(int, time.Duration)   {}
func (nopLogger) LogTaskResult(models.TaskRecord) error     { return nil }
func (nopLogger) LogFeatureTransition(string, models.FeatureStatus, models.FeatureStatus, string) {
}
func (nopLogger) LogProgress([]*models.Task)   {}
func (nopLogger) LogSummary(*models.RunReport) {}
func (nopLogger) LogDebug(string)              {}
func (nopLogger) LogInfo(string)               {}
func (nopLogger) LogWarn(string)               {}
func (nopLogger) LogError(string)              {}

type nopSink struct{}

func (nopSink) BeginRun(string, *models.Project, time.Time) error { return nil }
func (nopSink) RecordTask(string, models.TaskRecord) error        { return nil }
func (nopSink) FinishRun(string, *models.RunReport) error         { return nil }

// Defaults applied when the corresponding Options field is zero.
const (
	DefaultMaxConcurrency  = 4
	DefaultTaskTimeout     = 2 * time.Minute
	DefaultIterationBudget = 10
	DefaultAttemptCeiling  = 3
)

// Options tune a controller. Zero values fall back to defaults; a nil
// Logger or Audit is replaced with a no-op implementation.
type Options struct {
	MaxConcurrency  int               // Concurrent dispatch cap
	TaskTimeout     time.Duration     // Per-task deadline; overrun is a hard failure
	IterationBudget int               // Scheduling iterations per run
	AttemptCeiling  int               // Attempts per capability before rejection
	Installed       map[string]string // Package -> installed version; empty disables the dependency gate
	PackageManager  string            // Named in remediation advice, default pip
	Logger          Logger
	Audit           AuditSink
}

// Controller drives one project run: it schedules ready tasks, dispatches
// them to agents, applies the returned results and decides when the run
// ends. Project, feature and task state are mutated here and nowhere else;
// agents hand back immutable results that the controller applies serially.
type Controller struct {
	registry *agent.Registry
	opts     Options
	logger   Logger
	audit    AuditSink
	disp     *dispatcher
}

// NewController builds a controller over the given agent registry.
func NewController(registry *agent.Registry, opts Options) *Controller {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.IterationBudget <= 0 {
		opts.IterationBudget = DefaultIterationBudget
	}
	if opts.AttemptCeiling <= 0 {
		opts.AttemptCeiling = DefaultAttemptCeiling
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Audit == nil {
		opts.Audit = nopSink{}
	}

	return &Controller{
		registry: registry,
		opts:     opts,
		logger:   opts.Logger,
		audit:    opts.Audit,
		disp: &dispatcher{
			registry: registry,
			logger:   opts.Logger,
			limit:    opts.MaxConcurrency,
			timeout:  opts.TaskTimeout,
		},
	}
}

// Run executes the project until every feature is terminal, the iteration
// budget runs out, or the context is cancelled. Structural errors (cycle,
// unbound capability, invalid task set) return before any dispatch; every
// other failure is contained at feature granularity inside the returned
// report. SIGINT/SIGTERM cancel the run the same way the context does.
func (c *Controller) Run(ctx context.Context, p *models.Project) (*models.RunReport, error) {
	if p == nil {
		return nil, fmt.Errorf("project cannot be nil")
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("project %s is already %s", p.Name, p.Status)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			c.logger.LogWarn(fmt.Sprintf("received %v, cancelling run", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	rc := newRunContext(p)

	// Tasks already on the project are declared input; Synthesize keeps
	// them alongside the per-feature chains.
	graph, err := Synthesize(p, c.registry)
	if err != nil {
		return nil, err
	}
	rc.Graph = graph

	if err := c.audit.BeginRun(rc.ID, p, rc.StartedAt); err != nil {
		c.logger.LogWarn(fmt.Sprintf("audit: begin run: %v", err))
	}

	p.Status = models.ProjectInProgress
	c.logger.LogRunStart(p.Name, len(p.Features), len(p.Tasks))

	cancelled := false
	for rc.Iteration = 1; rc.Iteration <= c.opts.IterationBudget; rc.Iteration++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		iterStart := time.Now()
		c.logger.LogIterationStart(rc.Iteration, c.opts.IterationBudget)

		ready := c.schedule(rc)
		if len(ready) == 0 {
			break
		}

		c.markRunning(rc, ready)
		outcomes := c.disp.run(ctx, rc, ready)

		if ctx.Err() != nil {
			// No partial approvals after cancellation: in-flight results
			// are dropped, not applied.
			cancelled = true
			break
		}

		c.evaluate(rc, outcomes)
		rc.Completed = rc.Iteration
		c.logger.LogProgress(p.Tasks)
		c.logger.LogIterationComplete(rc.Iteration, time.Since(iterStart))

		// Declared tasks downstream of a feature's chain still run after
		// the feature approves, so drain the graph, not just the features.
		if AllTerminal(p) && rc.Graph.Done() {
			break
		}
	}
	if ctx.Err() != nil {
		cancelled = true
	}

	return c.finish(rc, cancelled), nil
}

// schedule collects the tasks whose predecessors have all succeeded and
// marks them ready. Implementation tasks pass through the dependency gate
// first: resolver conflicts block the owning feature instead of dispatching
// work that cannot land.
func (c *Controller) schedule(rc *RunContext) []*models.Task {
	ready := rc.Graph.ReadyTasks()
	if len(ready) == 0 {
		return nil
	}

	gated := len(c.opts.Installed) > 0 && len(rc.Project.Requirements) > 0

	var (
		checked   bool
		conflicts []resolver.Conflict
		checkErr  error
	)
	checkDeps := func() ([]resolver.Conflict, error) {
		if !checked {
			checked = true
			conflicts, checkErr = resolver.Check(c.opts.Installed, rc.Project.Requirements)
		}
		return conflicts, checkErr
	}

	blocked := make(map[string]bool)
	var dispatchable []*models.Task

	for _, t := range ready {
		if blocked[t.Feature] {
			continue
		}

		if gated && t.Capability == models.CapImplement && stackDependent(rc.Project.Feature(t.Feature)) {
			f := rc.Project.Feature(t.Feature)
			conflicts, err := checkDeps()
			switch {
			case err != nil:
				if f != nil && !f.Status.Terminal() {
					c.block(rc, f, fmt.Sprintf("dependency check failed: %v", err))
				}
				blocked[t.Feature] = true
				continue
			case len(conflicts) > 0:
				if f != nil && !f.Status.Terminal() {
					conflictErr := &ConflictError{Feature: t.Feature, Conflicts: conflicts}
					c.block(rc, f, conflictErr.Error())
					for _, cmd := range resolver.Remediations(conflicts, c.opts.PackageManager) {
						c.logger.LogInfo("remediation: " + cmd)
					}
				}
				blocked[t.Feature] = true
				continue
			}
		}

		t.Status = models.TaskReady
		dispatchable = append(dispatchable, t)
	}
	return dispatchable
}

// stackDependent reports whether a feature's constraints tie its
// implementation to the project's package stack. Only these features block
// on resolver conflicts; the rest proceed.
func stackDependent(f *models.Feature) bool {
	return f != nil && f.HasConstraint("use_a_database")
}

// markRunning flips scheduled tasks to running and pulls each owning
// feature's phase up to the capability being dispatched.
func (c *Controller) markRunning(rc *RunContext, tasks []*models.Task) {
	for _, t := range tasks {
		now := time.Now()
		t.Status = models.TaskRunning
		t.StartedAt = &now

		f := rc.Project.Feature(t.Feature)
		if f == nil || f.Status.Terminal() {
			continue
		}
		if phase, ok := phaseOf(t.Capability); ok && phaseRank(phase) > phaseRank(f.Status) {
			c.transition(f, phase, "")
		}
	}
}

// evaluate applies one iteration's dispatch outcomes. Results are applied in
// task id order so a run's state transitions do not depend on goroutine
// completion order. Terminal tasks never change again; a result for one is
// dropped.
func (c *Controller) evaluate(rc *RunContext, outcomes []dispatchOutcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].taskID < outcomes[j].taskID })

	for _, out := range outcomes {
		t := rc.Graph.Tasks[out.taskID]
		if t == nil || t.Status.Terminal() {
			continue
		}

		result := out.result
		if out.err != nil {
			result = resultFromError(out.err)
		}

		now := time.Now()
		t.CompletedAt = &now
		f := rc.Project.Feature(t.Feature)

		switch result.Outcome {
		case models.OutcomeSuccess:
			t.Status = models.TaskSucceeded
			c.applySuccess(t, f)
		case models.OutcomeRevise:
			t.Status = models.TaskFailed
			c.applyRevise(rc, t, f, result)
		default:
			t.Status = models.TaskFailed
			c.applyFailure(rc, t, f, result)
		}

		rec := models.TaskRecord{
			Iteration:  rc.Iteration,
			TaskID:     t.ID,
			Capability: t.Capability,
			Feature:    t.Feature,
			Attempt:    t.Attempt,
			Outcome:    result.Outcome,
			Detail:     result.Detail(),
			Duration:   out.duration,
			Timestamp:  now,
		}
		rc.record(rec)
		if err := c.audit.RecordTask(rc.ID, rec); err != nil {
			c.logger.LogWarn(fmt.Sprintf("audit: record task %s: %v", t.ID, err))
		}
		if err := c.logger.LogTaskResult(rec); err != nil {
			c.logger.LogWarn(fmt.Sprintf("log task %s: %v", t.ID, err))
		}
	}
}

// applySuccess advances the owning feature to the phase after the completed
// capability. Off-chain capabilities complete without moving the feature.
func (c *Controller) applySuccess(t *models.Task, f *models.Feature) {
	if f == nil || f.Status.Terminal() {
		return
	}
	if next, ok := phaseAfter(t.Capability); ok && phaseRank(next) > phaseRank(f.Status) {
		c.transition(f, next, "")
	}
}

// applyRevise spawns a remediation task carrying the accumulated feedback,
// or converts the revision into a rejection once the attempt ceiling is
// exceeded. The feature reverts to the phase preceding the revised
// capability.
func (c *Controller) applyRevise(rc *RunContext, t *models.Task, f *models.Feature, result models.AgentResult) {
	if f == nil || f.Status.Terminal() {
		return
	}

	feedback := append(append([]string(nil), t.Feedback...), result.Feedback)

	next := t.Attempt + 1
	if next > c.opts.AttemptCeiling {
		failure := &AgentFailureError{
			TaskID:     t.ID,
			Capability: t.Capability,
			Feature:    f.Name,
			Attempt:    t.Attempt,
			Cause:      fmt.Sprintf("attempt ceiling (%d) exceeded", c.opts.AttemptCeiling),
			Feedback:   feedback,
		}
		c.reject(rc, f, failure.Error())
		return
	}

	rem := &models.Task{
		ID:         models.RemediationID(f.Name, t.Capability, next),
		Capability: t.Capability,
		Feature:    f.Name,
		DependsOn:  append([]string(nil), t.DependsOn...),
		Status:     models.TaskPending,
		Attempt:    next,
		Feedback:   feedback,
	}
	rc.Project.Tasks = append(rc.Project.Tasks, rem)
	rc.Graph.Insert(rem, t.ID)
	c.logger.LogInfo(fmt.Sprintf("task %s revised, attempt %d queued with %d feedback note(s)", t.ID, next, len(feedback)))

	if prev, ok := phaseBefore(t.Capability); ok && phaseRank(prev) < phaseRank(f.Status) {
		c.transition(f, prev, "")
	}
}

// applyFailure handles a hard failure: recoverable failures block the
// feature so external action can resolve them, unrecoverable ones reject it.
// No remediation is spawned either way.
func (c *Controller) applyFailure(rc *RunContext, t *models.Task, f *models.Feature, result models.AgentResult) {
	if f == nil || f.Status.Terminal() {
		return
	}

	if result.Recoverable {
		c.block(rc, f, fmt.Sprintf("task %s failed: %s", t.ID, result.Cause))
		return
	}

	failure := &AgentFailureError{
		TaskID:     t.ID,
		Capability: t.Capability,
		Feature:    f.Name,
		Attempt:    t.Attempt,
		Cause:      result.Cause,
		Feedback:   t.Feedback,
	}
	c.reject(rc, f, failure.Error())
}

func (c *Controller) block(rc *RunContext, f *models.Feature, reason string) {
	c.transition(f, models.FeatureBlocked, reason)
	c.skipFeatureTasks(rc, f.Name)
}

func (c *Controller) reject(rc *RunContext, f *models.Feature, reason string) {
	c.transition(f, models.FeatureRejected, reason)
	c.skipFeatureTasks(rc, f.Name)
}

// skipFeatureTasks marks a terminal feature's undispatched tasks skipped.
// Running siblings keep going; their results land on the task record without
// moving the feature again.
func (c *Controller) skipFeatureTasks(rc *RunContext, feature string) {
	for _, t := range rc.Project.Tasks {
		if t.Feature == feature && !t.Status.Terminal() && t.Status != models.TaskRunning {
			t.Status = models.TaskSkipped
		}
	}
}

func (c *Controller) transition(f *models.Feature, to models.FeatureStatus, reason string) {
	if reason != "" {
		f.Reason = reason
	}
	if f.Status == to {
		return
	}
	from := f.Status
	f.Status = to
	c.logger.LogFeatureTransition(f.Name, from, to, reason)
}

// finish closes out the run: non-terminal features are blocked with the
// reason the run ended, the project status is derived from the feature
// statuses, and the report is assembled. A rejected feature takes precedence
// over budget exhaustion for the failure cause.
func (c *Controller) finish(rc *RunContext, cancelled bool) *models.RunReport {
	p := rc.Project
	var cause string

	if cancelled {
		c.abandonInFlight(rc)
		c.blockNonTerminal(rc, "run cancelled")
		p.Status = models.ProjectFailed
		cause = models.CauseCancelled
	} else {
		if !AllTerminal(p) {
			if rc.Iteration > c.opts.IterationBudget {
				c.blockNonTerminal(rc, fmt.Sprintf("iteration budget (%d) exhausted", c.opts.IterationBudget))
				cause = models.CauseBudgetExhausted
			} else {
				c.blockNonTerminal(rc, "no dispatchable tasks remain")
			}
		}

		switch Evaluate(p) {
		case models.ProjectConverged:
			p.Status = models.ProjectConverged
			cause = ""
		case models.ProjectFailed:
			p.Status = models.ProjectFailed
			cause = models.CauseRejected
		default:
			p.Status = models.ProjectFailed
			if cause == "" {
				cause = models.CauseBlocked
			}
		}
	}

	report := rc.report(cause)
	c.logger.LogSummary(report)
	if err := c.audit.FinishRun(rc.ID, report); err != nil {
		c.logger.LogWarn(fmt.Sprintf("audit: finish run: %v", err))
	}
	return report
}

// abandonInFlight marks tasks that were dispatched but never evaluated as
// skipped. Only reachable on cancellation.
func (c *Controller) abandonInFlight(rc *RunContext) {
	for _, t := range rc.Project.Tasks {
		if t.Status == models.TaskRunning || t.Status == models.TaskReady {
			t.Status = models.TaskSkipped
		}
	}
}

func (c *Controller) blockNonTerminal(rc *RunContext, reason string) {
	for _, f := range rc.Project.Features {
		if !f.Status.Terminal() {
			c.block(rc, f, reason)
		}
	}
}

// resultFromError converts a dispatch error into the hard failure it
// represents. Timeouts stay recoverable so the feature blocks instead of
// rejecting; anything else is an agent that could not run at all.
func resultFromError(err error) models.AgentResult {
	return models.Fail(err.Error(), IsTimeout(err))
}

// phaseOf maps a capability to the feature phase its dispatch represents.
func phaseOf(capability string) (models.FeatureStatus, bool) {
	switch capability {
	case models.CapDesign, models.CapAuthDesign, models.CapSchemaDesign:
		return models.FeatureDesigning, true
	case models.CapImplement:
		return models.FeatureImplementing, true
	case models.CapTest:
		return models.FeatureTesting, true
	case models.CapReview:
		return models.FeatureReviewing, true
	default:
		return "", false
	}
}

// phaseAfter maps a chain capability to the phase its success unlocks.
func phaseAfter(capability string) (models.FeatureStatus, bool) {
	switch capability {
	case models.CapDesign:
		return models.FeatureImplementing, true
	case models.CapImplement:
		return models.FeatureTesting, true
	case models.CapTest:
		return models.FeatureReviewing, true
	case models.CapReview:
		return models.FeatureApproved, true
	default:
		return "", false
	}
}

// phaseBefore maps a capability to the phase a revision reverts the feature
// to.
func phaseBefore(capability string) (models.FeatureStatus, bool) {
	switch capability {
	case models.CapDesign, models.CapAuthDesign, models.CapSchemaDesign:
		return models.FeatureTodo, true
	case models.CapImplement:
		return models.FeatureDesigning, true
	case models.CapTest:
		return models.FeatureImplementing, true
	case models.CapReview, models.CapAssessValue:
		return models.FeatureTesting, true
	default:
		return "", false
	}
}

// phaseRank orders the phase ladder; terminal and unknown statuses sit
// outside it.
func phaseRank(s models.FeatureStatus) int {
	switch s {
	case models.FeatureTodo:
		return 0
	case models.FeatureDesigning:
		return 1
	case models.FeatureImplementing:
		return 2
	case models.FeatureTesting:
		return 3
	case models.FeatureReviewing:
		return 4
	case models.FeatureApproved:
		return 5
	default:
		return -1
	}
}
