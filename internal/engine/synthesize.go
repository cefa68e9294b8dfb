package engine

import (
	"fmt"

	"github.com/ferrolane/guild/internal/models"
)

// CapabilitySet is the slice of the agent registry the graph builder needs:
// enough to refuse a graph whose tasks nobody can execute.
type CapabilitySet interface {
	Has(capability string) bool
}

// constraintRule describes the extra task one feature constraint tag
// introduces and which chain capabilities must wait for it.
type constraintRule struct {
	capability string
	gates      []string
}

// constraintRules maps constraint tags to synthesis rules. auth_design runs
// before design, schema_design runs parallel to design but ahead of
// implement, assess_value runs parallel to the chain and gates review.
// Unknown tags influence nothing.
var constraintRules = map[string]constraintRule{
	"secure_login":      {capability: models.CapAuthDesign, gates: []string{models.CapDesign, models.CapImplement}},
	"use_a_database":    {capability: models.CapSchemaDesign, gates: []string{models.CapImplement}},
	"business_critical": {capability: models.CapAssessValue, gates: []string{models.CapReview}},
}

// Synthesize populates the project's task set from its features and builds
// the dependency graph over it. Each feature gets the canonical chain
// design -> implement -> test -> review plus whatever its constraint tags
// require; explicit task declarations already on the project are kept and
// appended after the synthesized chains. Fails before returning any graph on
// cycles, unknown references and capabilities without a registered agent.
func Synthesize(p *models.Project, caps CapabilitySet) (*TaskGraph, error) {
	if len(p.Features) == 0 {
		return nil, fmt.Errorf("project %s declares no features", p.Name)
	}

	seen := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("project %s: feature with empty name", p.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("project %s: duplicate feature %s", p.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Status == "" {
			f.Status = models.FeatureTodo
		}
	}

	declared := p.Tasks
	var tasks []*models.Task
	for _, f := range p.Features {
		tasks = append(tasks, synthesizeChain(f)...)
	}
	for _, t := range declared {
		if !seen[t.Feature] {
			return nil, fmt.Errorf("task %s references unknown feature %s", t.ID, t.Feature)
		}
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		if t.Attempt == 0 {
			t.Attempt = 1
		}
		tasks = append(tasks, t)
	}

	g, err := BuildGraph(tasks)
	if err != nil {
		return nil, err
	}
	if err := checkCapabilities(g, caps); err != nil {
		return nil, err
	}

	p.Tasks = tasks
	return g, nil
}

// synthesizeChain builds the task chain for one feature. The chain keeps the
// literal edge set: implement depends on every design-phase task even when a
// design edge already implies it.
func synthesizeChain(f *models.Feature) []*models.Task {
	newTask := func(capability string, deps ...string) *models.Task {
		return &models.Task{
			ID:         models.TaskID(f.Name, capability),
			Capability: capability,
			Feature:    f.Name,
			DependsOn:  deps,
			Status:     models.TaskPending,
			Attempt:    1,
		}
	}

	var extras []*models.Task
	gatedBy := make(map[string][]string)
	added := make(map[string]bool)
	for _, tag := range f.Constraints {
		rule, ok := constraintRules[tag]
		if !ok || added[rule.capability] {
			continue
		}
		added[rule.capability] = true

		extra := newTask(rule.capability)
		extras = append(extras, extra)
		for _, gate := range rule.gates {
			gatedBy[gate] = append(gatedBy[gate], extra.ID)
		}
	}

	design := newTask(models.CapDesign, gatedBy[models.CapDesign]...)
	implement := newTask(models.CapImplement, append([]string{design.ID}, gatedBy[models.CapImplement]...)...)
	test := newTask(models.CapTest, append([]string{implement.ID}, gatedBy[models.CapTest]...)...)
	review := newTask(models.CapReview, append([]string{test.ID}, gatedBy[models.CapReview]...)...)

	return append(extras, design, implement, test, review)
}

// checkCapabilities refuses any graph containing a task whose capability has
// no registered agent. Runs at build time so dispatch never hits an unbound
// capability.
func checkCapabilities(g *TaskGraph, caps CapabilitySet) error {
	for _, id := range g.sortedIDs() {
		t := g.Tasks[id]
		if !caps.Has(t.Capability) {
			return &UnboundCapabilityError{TaskID: t.ID, Capability: t.Capability}
		}
	}
	return nil
}
