package agent

import "sort"

// Registry maps capability identifiers to agent instances. Registration is
// last-wins so discovered agents can override the built-in roster. The
// registry is written during startup and read-only afterwards.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register binds an agent to its capability, replacing any prior binding.
func (r *Registry) Register(a Agent) {
	r.agents[a.Capability()] = a
}

// Has reports whether an agent is registered for the capability.
func (r *Registry) Has(capability string) bool {
	_, ok := r.agents[capability]
	return ok
}

// Resolve returns the agent bound to the capability.
func (r *Registry) Resolve(capability string) (Agent, bool) {
	a, ok := r.agents[capability]
	return a, ok
}

// Capabilities returns the registered capability identifiers, sorted.
func (r *Registry) Capabilities() []string {
	caps := make([]string, 0, len(r.agents))
	for c := range r.agents {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}
