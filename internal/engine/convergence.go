package engine

import "github.com/ferrolane/guild/internal/models"

// Evaluate derives the project status from feature statuses alone: failed as
// soon as any feature is rejected, converged only when every feature is
// approved, in progress otherwise. Pure function; the controller applies the
// result.
func Evaluate(p *models.Project) models.ProjectStatus {
	if len(p.Features) == 0 {
		return models.ProjectInProgress
	}

	approved := 0
	for _, f := range p.Features {
		switch f.Status {
		case models.FeatureRejected:
			return models.ProjectFailed
		case models.FeatureApproved:
			approved++
		}
	}

	if approved == len(p.Features) {
		return models.ProjectConverged
	}
	return models.ProjectInProgress
}

// AllTerminal reports whether every feature has reached a terminal status.
// The iteration loop keys off this, not off Evaluate, so one rejected
// feature never stops independent features from finishing their chains.
func AllTerminal(p *models.Project) bool {
	for _, f := range p.Features {
		if !f.Status.Terminal() {
			return false
		}
	}
	return true
}
