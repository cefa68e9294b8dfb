package engine

import (
	"fmt"
	"sort"

	"github.com/ferrolane/guild/internal/models"
)

// TaskGraph indexes a project's tasks by id and tracks dependency edges
// between them. Edges run from prerequisite to dependent. The graph is owned
// by the controller for the duration of a run; agents never see it.
type TaskGraph struct {
	Tasks    map[string]*models.Task
	Edges    map[string][]string // prerequisite id -> dependent ids
	InDegree map[string]int
}

// BuildGraph validates the task set and builds its dependency graph. It
// fails on empty input, duplicate ids, references to unknown tasks and
// cycles. A cyclic task set returns no partial graph.
func BuildGraph(tasks []*models.Task) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("graph error: no tasks to schedule")
	}

	g := &TaskGraph{
		Tasks:    make(map[string]*models.Task, len(tasks)),
		Edges:    make(map[string][]string),
		InDegree: make(map[string]int, len(tasks)),
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.Tasks[t.ID]; dup {
			return nil, fmt.Errorf("graph error: duplicate task id %s", t.ID)
		}
		g.Tasks[t.ID] = t
		g.InDegree[t.ID] = 0
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				return nil, fmt.Errorf("graph error: task %s depends on unknown task %s", t.ID, dep)
			}
			g.Edges[dep] = append(g.Edges[dep], t.ID)
			g.InDegree[t.ID]++
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	return g, nil
}

// findCycle returns a task id path describing one dependency cycle, entry
// node repeated at the end, or nil for an acyclic graph. Self-references are
// reported before the general search so the shortest cycle wins.
func (g *TaskGraph) findCycle() []string {
	ids := g.sortedIDs()

	for _, id := range ids {
		if g.Tasks[id].DependsOnTask(id) {
			return []string{id, id}
		}
	}

	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully explored
	)
	color := make(map[string]int, len(ids))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)

		next := append([]string(nil), g.Edges[id]...)
		sort.Strings(next)
		for _, n := range next {
			switch color[n] {
			case gray:
				for i, s := range stack {
					if s == n {
						cycle = append(append([]string(nil), stack[i:]...), n)
						return true
					}
				}
			case white:
				if visit(n) {
					return true
				}
			}
		}

		color[id] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// ReadyTasks returns the pending tasks whose predecessors have all
// succeeded, ordered by id.
func (g *TaskGraph) ReadyTasks() []*models.Task {
	var ready []*models.Task
	for _, t := range g.Tasks {
		if t.Status != models.TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range t.DependsOn {
			pred, ok := g.Tasks[dep]
			if !ok || pred.Status != models.TaskSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// Done reports whether every task in the graph has reached a terminal
// status.
func (g *TaskGraph) Done() bool {
	for _, t := range g.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Insert adds a remediation task and rewires the dependents of the task it
// replaces, so downstream work waits on the new attempt instead of the
// failed one. The replaced task keeps its terminal status and history.
func (g *TaskGraph) Insert(t *models.Task, replaces string) {
	g.Tasks[t.ID] = t
	g.InDegree[t.ID] = len(t.DependsOn)
	for _, dep := range t.DependsOn {
		g.Edges[dep] = append(g.Edges[dep], t.ID)
	}

	for _, dependent := range g.Edges[replaces] {
		d, ok := g.Tasks[dependent]
		if !ok {
			continue
		}
		for i, dep := range d.DependsOn {
			if dep == replaces {
				d.DependsOn[i] = t.ID
			}
		}
		g.Edges[t.ID] = append(g.Edges[t.ID], dependent)
	}
	g.Edges[replaces] = nil
}

// Waves groups task ids into dispatch waves: wave n holds every task whose
// predecessors all sit in earlier waves, sorted within the wave. Used for
// plan previews; the scheduler itself works from ReadyTasks.
func (g *TaskGraph) Waves() ([][]string, error) {
	inDegree := make(map[string]int, len(g.InDegree))
	for id, d := range g.InDegree {
		inDegree[id] = d
	}

	var waves [][]string
	remaining := len(g.Tasks)

	for remaining > 0 {
		var wave []string
		for id, d := range inDegree {
			if d == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("graph error: no tasks with zero in-degree but %d tasks remain", remaining)
		}
		sort.Strings(wave)

		for _, id := range wave {
			delete(inDegree, id)
			for _, dependent := range g.Edges[id] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}

		remaining -= len(wave)
		waves = append(waves, wave)
	}

	return waves, nil
}

func (g *TaskGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
