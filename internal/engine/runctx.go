package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/ferrolane/guild/internal/models"
)

// RunContext holds the mutable state of one orchestration run: the project,
// its graph, the iteration counters and the audit trail. It is created at
// run start, owned by the controller goroutine for the whole run, and
// condensed into the RunReport at the end. Nothing outlives the run except
// what the report and audit sink capture.
type RunContext struct {
	ID        string
	Project   *models.Project
	Graph     *TaskGraph
	Iteration int // current iteration, 1-based
	Completed int // iterations fully evaluated
	StartedAt time.Time
	Records   []models.TaskRecord
}

func newRunContext(p *models.Project) *RunContext {
	return &RunContext{
		ID:        uuid.NewString(),
		Project:   p,
		StartedAt: time.Now(),
	}
}

func (rc *RunContext) record(rec models.TaskRecord) {
	rc.Records = append(rc.Records, rec)
}

// report condenses the run into its final report.
func (rc *RunContext) report(cause string) *models.RunReport {
	var succeeded, failed, skipped int
	for _, t := range rc.Project.Tasks {
		switch t.Status {
		case models.TaskSucceeded:
			succeeded++
		case models.TaskFailed:
			failed++
		case models.TaskSkipped:
			skipped++
		}
	}

	features := make([]models.FeatureOutcome, 0, len(rc.Project.Features))
	for _, f := range rc.Project.Features {
		features = append(features, models.FeatureOutcome{
			Name:   f.Name,
			Status: f.Status,
			Reason: f.Reason,
		})
	}

	return &models.RunReport{
		RunID:      rc.ID,
		Project:    rc.Project.Name,
		Status:     rc.Project.Status,
		Cause:      cause,
		Iterations: rc.Completed,
		Succeeded:  succeeded,
		Failed:     failed,
		Skipped:    skipped,
		Features:   features,
		Records:    rc.Records,
		StartedAt:  rc.StartedAt,
		Duration:   time.Since(rc.StartedAt),
	}
}
