package models

// FeatureStatus tracks a feature through the design/implement/test/review
// cycle.
type FeatureStatus string

const (
	FeatureTodo         FeatureStatus = "todo"
	FeatureDesigning    FeatureStatus = "designing"
	FeatureImplementing FeatureStatus = "implementing"
	FeatureTesting      FeatureStatus = "testing"
	FeatureReviewing    FeatureStatus = "reviewing"
	FeatureApproved     FeatureStatus = "approved"
	FeatureBlocked      FeatureStatus = "blocked"
	FeatureRejected     FeatureStatus = "rejected"
)

// Terminal reports whether the status is final for a run. Every feature ends
// a run in a terminal status.
func (s FeatureStatus) Terminal() bool {
	return s == FeatureApproved || s == FeatureBlocked || s == FeatureRejected
}

// Feature is one unit of product functionality tracked through the cycle.
// Constraint tags influence which tasks the graph builder synthesizes for it.
// Only the controller mutates Status and Reason.
type Feature struct {
	Name        string        // Unique within a project
	Description string        // Human description
	Constraints []string      // Constraint tags, spec order preserved
	Status      FeatureStatus // Lifecycle status
	Reason      string        // Why blocked or rejected (empty otherwise)
}

// HasConstraint reports whether the feature carries the given tag.
func (f *Feature) HasConstraint(tag string) bool {
	for _, c := range f.Constraints {
		if c == tag {
			return true
		}
	}
	return false
}
