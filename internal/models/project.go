package models

// ProjectStatus is the lifecycle status of a project across a run.
type ProjectStatus string

const (
	ProjectInitialized ProjectStatus = "initialized"
	ProjectInProgress  ProjectStatus = "in_progress"
	ProjectConverged   ProjectStatus = "converged"
	ProjectFailed      ProjectStatus = "failed"
	ProjectAbandoned   ProjectStatus = "abandoned"
)

// Terminal reports whether the status is final. A terminal project must not
// be mutated.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectConverged || s == ProjectFailed || s == ProjectAbandoned
}

// TechStack holds the declared technology choices for a project. The values
// are opaque identifiers; the engine never interprets them.
type TechStack struct {
	Backend  string `yaml:"backend" json:"backend"`
	Frontend string `yaml:"frontend" json:"frontend"`
	Database string `yaml:"database" json:"database"`
}

// Project is the root of the domain model: the declared stack, the ordered
// feature collection, and the tasks synthesized for them. A project is owned
// by exactly one controller for the duration of a run; agents receive copies
// and never mutate it.
type Project struct {
	Name         string            // Project name
	Stack        TechStack         // Declared stack identifiers (opaque)
	Requirements map[string]string // Package name -> required version range
	Features     []*Feature        // Ordered features
	Tasks        []*Task           // Ordered tasks (graph nodes)
	Status       ProjectStatus     // Lifecycle status
}

// Feature returns the feature with the given name, or nil.
func (p *Project) Feature(name string) *Feature {
	for _, f := range p.Features {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (p *Project) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// FeatureTasks returns the tasks owned by the named feature, in declaration
// order.
func (p *Project) FeatureTasks(name string) []*Task {
	var tasks []*Task
	for _, t := range p.Tasks {
		if t.Feature == name {
			tasks = append(tasks, t)
		}
	}
	return tasks
}
