package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/ferrolane/guild/internal/models"
)

// colorScheme defines consistent colors for run output.
// Green: success and approval
// Red: failure and rejection
// Yellow: revision and blocked states
// Cyan: identifiers and intermediate states
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
}

// newColorScheme creates the standard color scheme for run output.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
	}
}

// outcome formats a task outcome in upper case with its status color.
func (s *colorScheme) outcome(o models.Outcome) string {
	text := strings.ToUpper(string(o))
	switch o {
	case models.OutcomeSuccess:
		return s.success.Sprint(text)
	case models.OutcomeRevise:
		return s.warn.Sprint(text)
	case models.OutcomeFail:
		return s.fail.Sprint(text)
	default:
		return text
	}
}

// featureStatus colors a feature status by where it leaves the feature:
// approved green, blocked yellow, rejected red, everything else cyan.
func (s *colorScheme) featureStatus(st models.FeatureStatus) string {
	switch st {
	case models.FeatureApproved:
		return s.success.Sprint(string(st))
	case models.FeatureBlocked:
		return s.warn.Sprint(string(st))
	case models.FeatureRejected:
		return s.fail.Sprint(string(st))
	default:
		return s.label.Sprint(string(st))
	}
}

// runStatus colors a project status: converged green, failed red, in-flight
// states cyan.
func (s *colorScheme) runStatus(st models.ProjectStatus) string {
	switch st {
	case models.ProjectConverged:
		return s.success.Sprint(string(st))
	case models.ProjectFailed, models.ProjectAbandoned:
		return s.fail.Sprint(string(st))
	default:
		return s.label.Sprint(string(st))
	}
}

// formatTaskCounts formats the summary task counters with color coding.
// Succeeded counts are green; failed counts are red only when nonzero.
// Format: "succeeded N, failed N, skipped N"
func formatTaskCounts(report *models.RunReport, scheme *colorScheme) string {
	succeeded := scheme.success.Sprintf("succeeded %d", report.Succeeded)

	failed := fmt.Sprintf("failed %d", report.Failed)
	if report.Failed > 0 {
		failed = scheme.fail.Sprintf("failed %d", report.Failed)
	}

	skipped := fmt.Sprintf("skipped %d", report.Skipped)

	return fmt.Sprintf("%s, %s, %s", succeeded, failed, skipped)
}
