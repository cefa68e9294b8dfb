package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/models"
)

func rosterRegistry() *agent.Registry {
	reg := agent.NewRegistry()
	for _, a := range agent.DefaultRoster() {
		reg.Register(a)
	}
	return reg
}

func feat(name, description string, tags ...string) *models.Feature {
	return &models.Feature{Name: name, Description: description, Constraints: tags}
}

// recordingLogger captures feature transitions for assertions.
type recordingLogger struct {
	nopLogger
	mu          sync.Mutex
	transitions []string
}

func (l *recordingLogger) LogFeatureTransition(feature string, from, to models.FeatureStatus, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, fmt.Sprintf("%s:%s->%s", feature, from, to))
}

func TestRunConvergesSingleFeature(t *testing.T) {
	p := testProject(feat("home_page", "Landing page"))
	c := NewController(rosterRegistry(), Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Errorf("Status = %s, want converged", report.Status)
	}
	if report.ExitCode() != models.ExitConverged {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode())
	}
	if report.Cause != "" {
		t.Errorf("Cause = %q, want empty", report.Cause)
	}
	if report.Iterations != 4 {
		t.Errorf("Iterations = %d, want 4", report.Iterations)
	}
	if report.Succeeded != 4 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 4/0/0", report.Succeeded, report.Failed, report.Skipped)
	}
	if len(report.Records) != 4 {
		t.Errorf("Records = %d, want 4", len(report.Records))
	}

	if p.Status != models.ProjectConverged {
		t.Errorf("project status = %s", p.Status)
	}
	f := p.Feature("home_page")
	if f.Status != models.FeatureApproved {
		t.Errorf("feature status = %s, want approved", f.Status)
	}
	for _, tk := range p.Tasks {
		if tk.Status != models.TaskSucceeded {
			t.Errorf("task %s status = %s, want succeeded", tk.ID, tk.Status)
		}
		if tk.StartedAt == nil || tk.CompletedAt == nil {
			t.Errorf("task %s missing timestamps", tk.ID)
		}
	}
}

func TestRunDeclaredTaskSupplementsChain(t *testing.T) {
	p := testProject(feat("home_page", "Landing page"))
	p.Tasks = []*models.Task{
		{ID: "home_page/smoke", Capability: "test", Feature: "home_page", DependsOn: []string{"home_page/review"}},
	}
	c := NewController(rosterRegistry(), Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}
	// The declared task runs in the wave after review approves the feature.
	if report.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", report.Iterations)
	}
	if report.Succeeded != 5 {
		t.Errorf("Succeeded = %d, want 5", report.Succeeded)
	}
	smoke := p.Task("home_page/smoke")
	if smoke == nil || smoke.Status != models.TaskSucceeded {
		t.Fatalf("declared task = %+v, want succeeded", smoke)
	}
}

func TestRunFeaturePhaseLadder(t *testing.T) {
	p := testProject(feat("home_page", "Landing page"))
	logger := &recordingLogger{}
	c := NewController(rosterRegistry(), Options{Logger: logger})

	if _, err := c.Run(context.Background(), p); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"home_page:todo->designing",
		"home_page:designing->implementing",
		"home_page:implementing->testing",
		"home_page:testing->reviewing",
		"home_page:reviewing->approved",
	}
	if strings.Join(logger.transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", logger.transitions, want)
	}
}

func TestRunConvergesConstrainedFeature(t *testing.T) {
	p := testProject(feat("checkout", "Cart checkout", "secure_login", "use_a_database", "business_critical"))
	c := NewController(rosterRegistry(), Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}
	// Extras dispatch in the first iteration, then the chain runs.
	if report.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", report.Iterations)
	}
	if report.Succeeded != 7 {
		t.Errorf("Succeeded = %d, want 7", report.Succeeded)
	}
}

func TestRunReviseThenSucceed(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapReview, func(_ context.Context, req agent.Request) (models.AgentResult, error) {
		if req.Task.Attempt < 2 {
			return models.Revise("needs accessibility pass"), nil
		}
		return models.Success("review passed"), nil
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}
	if report.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", report.Iterations)
	}

	first := p.Task("home_page/review")
	if first == nil || first.Status != models.TaskFailed {
		t.Fatalf("original review task should be failed, got %+v", first)
	}

	rem := p.Task("home_page/review#2")
	if rem == nil {
		t.Fatal("remediation task home_page/review#2 should exist")
	}
	if rem.Status != models.TaskSucceeded || rem.Attempt != 2 {
		t.Errorf("remediation status=%s attempt=%d", rem.Status, rem.Attempt)
	}
	if len(rem.Feedback) != 1 || rem.Feedback[0] != "needs accessibility pass" {
		t.Errorf("remediation feedback = %v", rem.Feedback)
	}
}

func TestRunAttemptCeilingRejects(t *testing.T) {
	reg := rosterRegistry()
	count := 0
	reg.Register(agent.NewScripted(models.CapReview, func(_ context.Context, req agent.Request) (models.AgentResult, error) {
		count++
		return models.Revise(fmt.Sprintf("still wrong (round %d)", count)), nil
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if count != 3 {
		t.Errorf("review attempts = %d, want 3 before rejection", count)
	}

	f := p.Feature("home_page")
	if f.Status != models.FeatureRejected {
		t.Fatalf("feature status = %s, want rejected", f.Status)
	}
	if !strings.Contains(f.Reason, "attempt ceiling (3) exceeded") {
		t.Errorf("Reason = %q, want the ceiling named", f.Reason)
	}
	if !strings.Contains(f.Reason, "still wrong (round 3)") {
		t.Errorf("Reason = %q, want the last feedback included", f.Reason)
	}

	if report.Status != models.ProjectFailed || report.Cause != models.CauseRejected {
		t.Errorf("report = %s/%s, want failed/%s", report.Status, report.Cause, models.CauseRejected)
	}
	if report.ExitCode() != models.ExitRejected {
		t.Errorf("ExitCode = %d, want 1", report.ExitCode())
	}
}

func TestRunRejectionDoesNotBlockIndependentFeatures(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapReview, func(_ context.Context, req agent.Request) (models.AgentResult, error) {
		if req.Feature.Name == "checkout" {
			return models.Fail("payments api unreachable", false), nil
		}
		return models.Success("review passed"), nil
	}))

	p := testProject(
		feat("checkout", "Cart checkout"),
		feat("home_page", "Landing page"),
	)
	c := NewController(reg, Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := p.Feature("checkout").Status; got != models.FeatureRejected {
		t.Errorf("checkout = %s, want rejected", got)
	}
	if got := p.Feature("home_page").Status; got != models.FeatureApproved {
		t.Errorf("home_page = %s, want approved", got)
	}
	if report.Status != models.ProjectFailed || report.Cause != models.CauseRejected {
		t.Errorf("report = %s/%s", report.Status, report.Cause)
	}
}

func TestRunRecoverableFailureBlocks(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapImplement, func(_ context.Context, _ agent.Request) (models.AgentResult, error) {
		return models.Fail("build sandbox unavailable", true), nil
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f := p.Feature("home_page")
	if f.Status != models.FeatureBlocked {
		t.Fatalf("feature status = %s, want blocked", f.Status)
	}
	if !strings.Contains(f.Reason, "build sandbox unavailable") {
		t.Errorf("Reason = %q", f.Reason)
	}

	if p.Task("home_page/test").Status != models.TaskSkipped {
		t.Error("test task should be skipped")
	}
	if p.Task("home_page/review").Status != models.TaskSkipped {
		t.Error("review task should be skipped")
	}
	if report.Cause != models.CauseBlocked {
		t.Errorf("Cause = %s, want %s", report.Cause, models.CauseBlocked)
	}
	if report.ExitCode() != models.ExitRejected {
		t.Errorf("ExitCode = %d, want 1", report.ExitCode())
	}
}

func TestRunTaskTimeoutBlocksFeature(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapDesign, func(ctx context.Context, _ agent.Request) (models.AgentResult, error) {
		select {
		case <-ctx.Done():
			return models.AgentResult{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return models.Success("late"), nil
		}
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{TaskTimeout: 50 * time.Millisecond})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f := p.Feature("home_page")
	if f.Status != models.FeatureBlocked {
		t.Fatalf("feature status = %s, want blocked", f.Status)
	}
	if !strings.Contains(f.Reason, "timeout after") {
		t.Errorf("Reason = %q, want the timeout named", f.Reason)
	}
	if len(report.Records) != 1 || report.Records[0].Outcome != models.OutcomeFail {
		t.Errorf("Records = %+v", report.Records)
	}
	// A timed out task never spawns a remediation.
	if p.Task("home_page/design#2") != nil {
		t.Error("timeout should not spawn remediation")
	}
}

func TestRunDependencyConflictBlocks(t *testing.T) {
	p := testProject(feat("product_catalog", "Browse products", "use_a_database"))
	p.Requirements = map[string]string{"flask": ">=2.3.0"}

	c := NewController(rosterRegistry(), Options{
		Installed: map[string]string{"flask": "2.0.0"},
	})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f := p.Feature("product_catalog")
	if f.Status != models.FeatureBlocked {
		t.Fatalf("feature status = %s, want blocked", f.Status)
	}
	if !strings.Contains(f.Reason, "flask: installed 2.0.0, required >=2.3.0") {
		t.Errorf("Reason = %q, want the conflict tuple", f.Reason)
	}

	// Design-phase work landed before the gate closed.
	if p.Task("product_catalog/design").Status != models.TaskSucceeded {
		t.Error("design should have succeeded")
	}
	if p.Task("product_catalog/schema_design").Status != models.TaskSucceeded {
		t.Error("schema_design should have succeeded")
	}
	if p.Task("product_catalog/implement").Status != models.TaskSkipped {
		t.Error("implement should be skipped, never dispatched")
	}

	if report.Status != models.ProjectFailed || report.Cause != models.CauseBlocked {
		t.Errorf("report = %s/%s", report.Status, report.Cause)
	}
}

func TestRunConflictSparesStackIndependentFeatures(t *testing.T) {
	p := testProject(
		feat("home_page", "Landing page"),
		feat("product_catalog", "Browse products", "use_a_database"),
	)
	p.Requirements = map[string]string{"flask": ">=2.3.0"}

	c := NewController(rosterRegistry(), Options{
		Installed: map[string]string{"flask": "2.0.0"},
	})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := p.Feature("home_page").Status; got != models.FeatureApproved {
		t.Errorf("home_page status = %s, want approved despite the conflict", got)
	}
	if got := p.Feature("product_catalog").Status; got != models.FeatureBlocked {
		t.Errorf("product_catalog status = %s, want blocked", got)
	}
	if report.Status != models.ProjectFailed || report.Cause != models.CauseBlocked {
		t.Errorf("report = %s/%s", report.Status, report.Cause)
	}
}

func TestRunDependencyGateDisabledWithoutTable(t *testing.T) {
	p := testProject(feat("product_catalog", "Browse products", "use_a_database"))
	p.Requirements = map[string]string{"flask": ">=2.3.0"}

	c := NewController(rosterRegistry(), Options{})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != models.ProjectConverged {
		t.Errorf("Status = %s, want converged without an installed table", report.Status)
	}
}

func TestRunDependencyCheckErrorBlocks(t *testing.T) {
	p := testProject(feat("product_catalog", "Browse products", "use_a_database"))
	p.Requirements = map[string]string{"flask": ">=2.0"}

	c := NewController(rosterRegistry(), Options{
		Installed: map[string]string{"flask": "not-a-version"},
	})

	if _, err := c.Run(context.Background(), p); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f := p.Feature("product_catalog")
	if f.Status != models.FeatureBlocked {
		t.Fatalf("feature status = %s, want blocked", f.Status)
	}
	if !strings.Contains(f.Reason, "dependency check failed") {
		t.Errorf("Reason = %q", f.Reason)
	}
}

func TestRunIterationBudgetExhausted(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapReview, func(_ context.Context, _ agent.Request) (models.AgentResult, error) {
		return models.Revise("never good enough"), nil
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{IterationBudget: 5, AttemptCeiling: 99})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", report.Iterations)
	}
	if report.Cause != models.CauseBudgetExhausted {
		t.Errorf("Cause = %s, want %s", report.Cause, models.CauseBudgetExhausted)
	}
	if report.ExitCode() != models.ExitBudgetExhausted {
		t.Errorf("ExitCode = %d, want 2", report.ExitCode())
	}

	f := p.Feature("home_page")
	if f.Status != models.FeatureBlocked {
		t.Fatalf("feature status = %s, want blocked", f.Status)
	}
	if !strings.Contains(f.Reason, "iteration budget (5) exhausted") {
		t.Errorf("Reason = %q", f.Reason)
	}
}

func TestRunCancellation(t *testing.T) {
	reg := rosterRegistry()
	started := make(chan struct{})
	reg.Register(agent.NewScripted(models.CapDesign, func(ctx context.Context, _ agent.Request) (models.AgentResult, error) {
		close(started)
		<-ctx.Done()
		return models.AgentResult{}, ctx.Err()
	}))

	p := testProject(feat("home_page", "Landing page"))
	c := NewController(reg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	report, err := c.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Cause != models.CauseCancelled {
		t.Errorf("Cause = %s, want %s", report.Cause, models.CauseCancelled)
	}
	if report.ExitCode() != models.ExitCancelled {
		t.Errorf("ExitCode = %d, want 3", report.ExitCode())
	}
	if report.Status != models.ProjectFailed {
		t.Errorf("Status = %s, want failed", report.Status)
	}

	// No partial approvals: the in-flight result was dropped, every task
	// was abandoned, the feature ends blocked.
	if len(report.Records) != 0 {
		t.Errorf("Records = %d, want 0", len(report.Records))
	}
	f := p.Feature("home_page")
	if f.Status != models.FeatureBlocked || !strings.Contains(f.Reason, "run cancelled") {
		t.Errorf("feature = %s (%q)", f.Status, f.Reason)
	}
	for _, tk := range p.Tasks {
		if tk.Status != models.TaskSkipped {
			t.Errorf("task %s = %s, want skipped", tk.ID, tk.Status)
		}
	}
}

func TestRunStructuralErrorsAbortBeforeDispatch(t *testing.T) {
	t.Run("unbound capability", func(t *testing.T) {
		reg := agent.NewRegistry()
		reg.Register(agent.NewScripted(models.CapDesign, nil))

		p := testProject(feat("home_page", "Landing page"))
		c := NewController(reg, Options{})

		_, err := c.Run(context.Background(), p)
		if !IsUnboundCapability(err) {
			t.Fatalf("error = %v, want UnboundCapabilityError", err)
		}
		if p.Status != models.ProjectInitialized {
			t.Errorf("project status = %s, want untouched", p.Status)
		}
	})

	t.Run("cycle in declared tasks", func(t *testing.T) {
		p := testProject(feat("home_page", "Landing page"))
		p.Tasks = []*models.Task{
			{ID: "home_page/loop", Capability: "design", Feature: "home_page", DependsOn: []string{"home_page/loop"}},
		}
		c := NewController(rosterRegistry(), Options{})

		_, err := c.Run(context.Background(), p)
		if !IsCycle(err) {
			t.Fatalf("error = %v, want CycleError", err)
		}
	})

	t.Run("declared task colliding with a chain id", func(t *testing.T) {
		p := testProject(feat("home_page", "Landing page"))
		p.Tasks = []*models.Task{
			{ID: "home_page/design", Capability: "design", Feature: "home_page"},
		}
		c := NewController(rosterRegistry(), Options{})

		_, err := c.Run(context.Background(), p)
		if err == nil || !strings.Contains(err.Error(), "duplicate task id") {
			t.Fatalf("error = %v, want duplicate task id", err)
		}
	})

	t.Run("terminal project", func(t *testing.T) {
		p := testProject(feat("home_page", "Landing page"))
		p.Status = models.ProjectConverged
		c := NewController(rosterRegistry(), Options{})

		if _, err := c.Run(context.Background(), p); err == nil {
			t.Error("running a terminal project should fail")
		}
	})

	t.Run("nil project", func(t *testing.T) {
		c := NewController(rosterRegistry(), Options{})
		if _, err := c.Run(context.Background(), nil); err == nil {
			t.Error("nil project should fail")
		}
	})
}

func TestRunDeterministicAcrossRuns(t *testing.T) {
	build := func() *models.Project {
		return testProject(
			feat("user_login", "Login", "secure_login"),
			feat("product_catalog", "Browse", "use_a_database"),
			feat("home_page", "Landing"),
		)
	}

	run := func() *models.RunReport {
		c := NewController(rosterRegistry(), Options{MaxConcurrency: 4})
		report, err := c.Run(context.Background(), build())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return report
	}

	a, b := run(), run()
	if a.Status != b.Status || a.Iterations != b.Iterations {
		t.Errorf("runs diverged: %s/%d vs %s/%d", a.Status, a.Iterations, b.Status, b.Iterations)
	}
	if len(a.Features) != len(b.Features) {
		t.Fatalf("feature counts diverged")
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			t.Errorf("feature %d diverged: %+v vs %+v", i, a.Features[i], b.Features[i])
		}
	}
}

func TestEvaluateAppliesResultOnce(t *testing.T) {
	reg := rosterRegistry()
	c := NewController(reg, Options{})

	p := testProject(feat("home_page", "Landing page"))
	g, err := Synthesize(p, reg)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	rc := newRunContext(p)
	rc.Graph = g
	rc.Iteration = 1

	outcomes := []dispatchOutcome{{
		taskID:   "home_page/design",
		result:   models.Success("layout done"),
		duration: time.Millisecond,
	}}

	c.evaluate(rc, outcomes)
	c.evaluate(rc, outcomes) // replayed result must not apply twice

	if got := g.Tasks["home_page/design"].Status; got != models.TaskSucceeded {
		t.Errorf("task status = %s", got)
	}
	if len(rc.Records) != 1 {
		t.Errorf("Records = %d, want 1", len(rc.Records))
	}
	if got := p.Feature("home_page").Status; got != models.FeatureImplementing {
		t.Errorf("feature status = %s, want implementing", got)
	}
}
