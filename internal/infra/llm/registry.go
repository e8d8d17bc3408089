// Connector registry and model introspection. Built once at startup from
// static configuration; read-only afterwards, so lookups need no locking.
package llm

import (
	"fmt"
	"sort"
)

// Registry maps connector ids to live Connector instances and answers
// model lookups across all of them.
type Registry struct {
	connectors map[string]Connector
	order      []string // registration order, for deterministic iteration
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector. Last registration wins for a duplicate id.
func (r *Registry) Register(c Connector) {
	if _, exists := r.connectors[c.ID()]; !exists {
		r.order = append(r.order, c.ID())
	}
	r.connectors[c.ID()] = c
}

// Connector returns the connector registered under id.
func (r *Registry) Connector(id string) (Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// Resolve finds the enabled model named name and its owning connector.
func (r *Registry) Resolve(name string) (ModelDescriptor, Connector, bool) {
	for _, id := range r.order {
		c := r.connectors[id]
		if m, ok := c.Model(name); ok {
			return m, c, true
		}
	}
	return ModelDescriptor{}, nil, false
}

// Models lists every enabled model across all connectors, sorted by
// descending priority.
func (r *Registry) Models() []ModelDescriptor {
	return r.modelsWhere(func(ModelDescriptor, Connector) bool { return true })
}

// ModelsByCapability lists enabled models carrying cap whose connector is
// configured, sorted by descending priority.
func (r *Registry) ModelsByCapability(cap Capability) []ModelDescriptor {
	return r.modelsWhere(func(m ModelDescriptor, c Connector) bool {
		return m.HasCapability(cap) && c.IsConfigured()
	})
}

func (r *Registry) modelsWhere(keep func(ModelDescriptor, Connector) bool) []ModelDescriptor {
	var out []ModelDescriptor
	for _, id := range r.order {
		c := r.connectors[id]
		for _, m := range connectorModels(c) {
			if keep(m, c) {
				out = append(out, m)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// modelLister is satisfied by connectorBase; connectors expose their full
// enabled model set through it without widening the Connector contract.
type modelLister interface {
	ListModels() []ModelDescriptor
}

func connectorModels(c Connector) []ModelDescriptor {
	if l, ok := c.(modelLister); ok {
		return l.ListModels()
	}
	return nil
}

// Validate checks the startup invariant that every descriptor's connector
// id resolves to a registered connector (guaranteed by construction for
// the built-in adapters, re-checked here for custom ones).
func (r *Registry) Validate() error {
	for _, id := range r.order {
		for _, m := range connectorModels(r.connectors[id]) {
			if _, ok := r.connectors[m.Connector]; !ok {
				return fmt.Errorf("model %q references unknown connector %q", m.Name, m.Connector)
			}
		}
	}
	return nil
}
