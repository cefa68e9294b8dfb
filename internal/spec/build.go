package spec

import (
	"fmt"
	"strings"

	"github.com/ferrolane/guild/internal/models"
)

// Build validates a document and constructs the project model. Features
// start in todo; declared tasks start pending on attempt 1.
func Build(doc *Document) (*models.Project, error) {
	if doc == nil {
		return nil, fmt.Errorf("specification is empty")
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	p := &models.Project{
		Name: strings.TrimSpace(doc.Project.Name),
		Stack: models.TechStack{
			Backend:  doc.Project.TechStack.Backend,
			Frontend: doc.Project.TechStack.Frontend,
			Database: doc.Project.TechStack.Database,
		},
		Requirements: doc.Project.Requirements,
		Status:       models.ProjectInitialized,
	}

	for _, f := range doc.Features {
		p.Features = append(p.Features, &models.Feature{
			Name:        f.Name,
			Description: f.Description,
			Constraints: append([]string(nil), f.Constraints...),
			Status:      models.FeatureTodo,
		})
	}

	for _, tk := range doc.Tasks {
		p.Tasks = append(p.Tasks, &models.Task{
			ID:         tk.ID,
			Capability: tk.Capability,
			Feature:    tk.Feature,
			DependsOn:  append([]string(nil), tk.DependsOn...),
			Status:     models.TaskPending,
			Attempt:    1,
		})
	}

	return p, nil
}

// validate enforces the required fields of a specification document.
func validate(doc *Document) error {
	if strings.TrimSpace(doc.Project.Name) == "" {
		return fmt.Errorf("missing required field: project.name")
	}
	if doc.Project.TechStack.Backend == "" {
		return fmt.Errorf("missing required field: project.tech_stack.backend")
	}
	if doc.Project.TechStack.Frontend == "" {
		return fmt.Errorf("missing required field: project.tech_stack.frontend")
	}
	if len(doc.Features) == 0 {
		return fmt.Errorf("specification declares no features")
	}

	features := make(map[string]bool)
	for i, f := range doc.Features {
		if f.Name == "" {
			return fmt.Errorf("feature %d: missing required field: name", i)
		}
		if f.Description == "" {
			return fmt.Errorf("feature %s: missing required field: description", f.Name)
		}
		if features[f.Name] {
			return fmt.Errorf("duplicate feature: %s", f.Name)
		}
		features[f.Name] = true
	}

	// Declared tasks join the synthesized chains as extra graph nodes, so
	// only document-local integrity is checked here. Id collisions against
	// the chains surface when the graph is built.
	taskIDs := make(map[string]bool)
	for i, tk := range doc.Tasks {
		if tk.ID == "" {
			return fmt.Errorf("task %d: missing required field: id", i)
		}
		if tk.Capability == "" {
			return fmt.Errorf("task %s: missing required field: capability", tk.ID)
		}
		if tk.Feature == "" {
			return fmt.Errorf("task %s: missing required field: feature", tk.ID)
		}
		if !features[tk.Feature] {
			return fmt.Errorf("task %s: unknown feature %q", tk.ID, tk.Feature)
		}
		if taskIDs[tk.ID] {
			return fmt.Errorf("duplicate task id: %s", tk.ID)
		}
		taskIDs[tk.ID] = true
	}

	return nil
}
