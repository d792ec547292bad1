// Package launcher maps agent type names to constructors so a single runtime
// binary can start any kind of agent from its properties.
package launcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Component is a started unit of a runtime: an agent and whatever servers it
// owns.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Constructor func(env *Env) (Component, error)

// Registry manages the available agent types.
type Registry struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// DefaultRegistry knows every agent type shipped with ezDL.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TypeDirectory, newDirectory)
	_ = r.Register(TypeWrapper, newWrapper)
	_ = r.Register(TypeGateway, newGateway)
	return r
}

func (r *Registry) Register(agentType string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[agentType]; exists {
		return fmt.Errorf("agent type %s already registered", agentType)
	}
	r.constructors[agentType] = c
	return nil
}

func (r *Registry) Get(agentType string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.constructors[agentType]
	if !exists {
		return nil, fmt.Errorf("agent type %s not found", agentType)
	}
	return c, nil
}

// List returns the registered type names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Launch builds the component for agentType.
func (r *Registry) Launch(agentType string, env *Env) (Component, error) {
	c, err := r.Get(agentType)
	if err != nil {
		return nil, err
	}
	comp, err := c(env)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s agent: %w", agentType, err)
	}
	return comp, nil
}
