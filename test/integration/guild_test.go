package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ferrolane/guild/internal/agent"
	"github.com/ferrolane/guild/internal/auditlog"
	"github.com/ferrolane/guild/internal/engine"
	"github.com/ferrolane/guild/internal/logger"
	"github.com/ferrolane/guild/internal/models"
	"github.com/ferrolane/guild/internal/spec"
)

const webShopYAML = `project:
  name: WebShop
  tech_stack:
    backend: Python-Flask
    frontend: HTML-CSS
    database: sqlite
  requirements:
    flask: ">=2.3.0"
features:
  - name: home_page
    description: Landing page with product highlights
  - name: checkout
    description: Cart checkout with payment
    constraints: [secure_login, use_a_database, business_critical]
`

const webShopMarkdown = `# Project: WebShop

Backend: Python/Flask
Frontend: HTML/CSS
Database: sqlite

## Feature: home_page

Landing page with product highlights.

## Feature: checkout

Cart checkout with payment.

Constraints: secure_login, use_a_database, business_critical
`

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write spec: %v", err)
	}
	return path
}

func rosterRegistry() *agent.Registry {
	reg := agent.NewRegistry()
	for _, a := range agent.DefaultRoster() {
		reg.Register(a)
	}
	return reg
}

func TestSpecToConvergence_YAML(t *testing.T) {
	p, err := spec.Load(writeSpec(t, "webshop.yaml", webShopYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var buf bytes.Buffer
	c := engine.NewController(rosterRegistry(), engine.Options{
		Logger: logger.NewConsoleLogger(&buf, "info"),
	})

	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}
	if report.ExitCode() != models.ExitConverged {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode())
	}

	// home_page is the plain four-task chain; checkout adds auth_design,
	// schema_design and assess_value.
	if report.Succeeded != 11 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("Counts = %d/%d/%d, want 11/0/0",
			report.Succeeded, report.Failed, report.Skipped)
	}
	// checkout's longest path: auth_design, design, implement, test, review.
	if report.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", report.Iterations)
	}

	for _, name := range []string{"home_page", "checkout"} {
		if got := p.Feature(name).Status; got != models.FeatureApproved {
			t.Errorf("%s status = %s, want approved", name, got)
		}
	}
	if !strings.Contains(buf.String(), "WebShop") {
		t.Error("console log missing the project name")
	}
}

func TestSpecToConvergence_Markdown(t *testing.T) {
	p, err := spec.Load(writeSpec(t, "webshop.md", webShopMarkdown))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checkout := p.Feature("checkout")
	if checkout == nil {
		t.Fatal("checkout feature not parsed")
	}
	if len(checkout.Constraints) != 3 {
		t.Fatalf("checkout constraints = %v, want 3 tags", checkout.Constraints)
	}

	c := engine.NewController(rosterRegistry(), engine.Options{})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != models.ProjectConverged || report.Succeeded != 11 {
		t.Errorf("report = %s with %d succeeded, want converged with 11",
			report.Status, report.Succeeded)
	}
}

func TestRunPersistsAuditTrail(t *testing.T) {
	p, err := spec.Load(writeSpec(t, "webshop.yaml", webShopYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	store, err := auditlog.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	c := engine.NewController(rosterRegistry(), engine.Options{Audit: store})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.RunID != report.RunID {
		t.Errorf("RunID = %q, want %q", run.RunID, report.RunID)
	}
	if run.Status != string(models.ProjectConverged) {
		t.Errorf("Status = %q, want converged", run.Status)
	}
	if run.Succeeded != report.Succeeded {
		t.Errorf("Succeeded = %d, want %d", run.Succeeded, report.Succeeded)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt not recorded")
	}

	events, err := store.TaskEvents(report.RunID)
	if err != nil {
		t.Fatalf("TaskEvents failed: %v", err)
	}
	if len(events) != len(report.Records) {
		t.Errorf("len(events) = %d, want %d", len(events), len(report.Records))
	}

	outcomes, err := store.FeatureOutcomes(report.RunID)
	if err != nil {
		t.Fatalf("FeatureOutcomes failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}
	for _, f := range outcomes {
		if f.Status != models.FeatureApproved {
			t.Errorf("%s status = %s, want approved", f.Name, f.Status)
		}
	}
}

func TestReviewRevisionLoop(t *testing.T) {
	reg := rosterRegistry()

	var mu sync.Mutex
	reviews := 0
	reg.Register(agent.NewScripted(models.CapReview, func(_ context.Context, _ agent.Request) (models.AgentResult, error) {
		mu.Lock()
		defer mu.Unlock()
		reviews++
		if reviews < 3 {
			return models.Revise("needs a welcome banner"), nil
		}
		return models.Success("review passed"), nil
	}))

	p := &models.Project{
		Name:     "RevisionShop",
		Features: []*models.Feature{{Name: "home_page", Description: "Landing page"}},
		Status:   models.ProjectInitialized,
	}

	c := engine.NewController(reg, engine.Options{})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}
	if report.Succeeded != 4 || report.Failed != 2 {
		t.Errorf("Counts = %d succeeded / %d failed, want 4/2",
			report.Succeeded, report.Failed)
	}

	final := p.Task("home_page/review#3")
	if final == nil {
		t.Fatal("third review attempt missing")
	}
	if final.Status != models.TaskSucceeded || final.Attempt != 3 {
		t.Errorf("final review = %s attempt %d, want succeeded attempt 3",
			final.Status, final.Attempt)
	}
	// Feedback from both rejected attempts rides along on the retry.
	if len(final.Feedback) != 2 {
		t.Errorf("Feedback = %v, want both review notes", final.Feedback)
	}
}

func TestUnrecoverableFailureRejects(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapImplement, func(_ context.Context, _ agent.Request) (models.AgentResult, error) {
		return models.Fail("generated code does not compile", false), nil
	}))

	p := &models.Project{
		Name:     "BrokenShop",
		Features: []*models.Feature{{Name: "home_page", Description: "Landing page"}},
		Status:   models.ProjectInitialized,
	}

	c := engine.NewController(reg, engine.Options{})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != models.ProjectFailed || report.Cause != models.CauseRejected {
		t.Fatalf("report = %s/%s, want failed/%s",
			report.Status, report.Cause, models.CauseRejected)
	}
	if report.ExitCode() != models.ExitRejected {
		t.Errorf("ExitCode = %d, want 1", report.ExitCode())
	}

	f := p.Feature("home_page")
	if f.Status != models.FeatureRejected {
		t.Errorf("feature status = %s, want rejected", f.Status)
	}
	if p.Task("home_page/test").Status != models.TaskSkipped {
		t.Error("downstream test task should be skipped")
	}
	if p.Task("home_page/review").Status != models.TaskSkipped {
		t.Error("downstream review task should be skipped")
	}
}

func TestConflictBlocksOnlyStackBoundFeatures(t *testing.T) {
	input := `project:
  name: WebShop
  tech_stack:
    backend: Python-Flask
    frontend: HTML-CSS
  requirements:
    flask: ">=2.3.0"
features:
  - name: home_page
    description: Landing page with product highlights
  - name: product_catalog
    description: Browse products
    constraints: [use_a_database]
`
	p, err := spec.Load(writeSpec(t, "webshop.yaml", input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	c := engine.NewController(rosterRegistry(), engine.Options{
		Installed: map[string]string{"flask": "2.0.0"},
	})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := p.Feature("home_page").Status; got != models.FeatureApproved {
		t.Errorf("home_page status = %s, want approved", got)
	}
	catalog := p.Feature("product_catalog")
	if catalog.Status != models.FeatureBlocked {
		t.Fatalf("product_catalog status = %s, want blocked", catalog.Status)
	}
	if !strings.Contains(catalog.Reason, "flask: installed 2.0.0, required >=2.3.0") {
		t.Errorf("Reason = %q, want the conflict tuple", catalog.Reason)
	}
	if report.Status != models.ProjectFailed || report.Cause != models.CauseBlocked {
		t.Errorf("report = %s/%s, want failed/%s",
			report.Status, report.Cause, models.CauseBlocked)
	}
}

func TestCancellationAbandonsRun(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewScripted(models.CapDesign, func(ctx context.Context, _ agent.Request) (models.AgentResult, error) {
		select {
		case <-ctx.Done():
			return models.AgentResult{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return models.Success("late"), nil
		}
	}))

	p := &models.Project{
		Name:     "SlowShop",
		Features: []*models.Feature{{Name: "home_page", Description: "Landing page"}},
		Status:   models.ProjectInitialized,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := engine.NewController(reg, engine.Options{})
	report, err := c.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Cause != models.CauseCancelled {
		t.Fatalf("Cause = %s, want %s", report.Cause, models.CauseCancelled)
	}
	if report.ExitCode() != models.ExitCancelled {
		t.Errorf("ExitCode = %d, want 3", report.ExitCode())
	}
	if report.Succeeded != 0 {
		t.Errorf("Succeeded = %d, want no partial approvals", report.Succeeded)
	}
	f := p.Feature("home_page")
	if f.Status != models.FeatureBlocked || !strings.Contains(f.Reason, "run cancelled") {
		t.Errorf("feature = %s (%q), want blocked by cancellation", f.Status, f.Reason)
	}
}

func TestExecAgentEndToEnd(t *testing.T) {
	reg := rosterRegistry()
	reg.Register(agent.NewExecAgent(models.CapImplement,
		[]string{"/bin/sh", "-c", "echo implemented $GUILD_FEATURE"}, 0))

	p := &models.Project{
		Name:     "ExecShop",
		Features: []*models.Feature{{Name: "home_page", Description: "Landing page"}},
		Status:   models.ProjectInitialized,
	}

	c := engine.NewController(reg, engine.Options{})
	report, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != models.ProjectConverged {
		t.Fatalf("Status = %s, want converged", report.Status)
	}

	found := false
	for _, rec := range report.Records {
		if rec.Capability == models.CapImplement {
			found = true
			if rec.Detail != "implemented home_page" {
				t.Errorf("Detail = %q, want the command output", rec.Detail)
			}
		}
	}
	if !found {
		t.Error("no implement record in the report")
	}
}
