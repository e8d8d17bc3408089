package dispatch

import (
	"errors"
	"sync"
)

// ErrNoSelectorAvailable means no selector matched the task. A router built
// with NewTaskRouter carries a catch-all, so this only fires on an empty or
// hand-assembled router.
var ErrNoSelectorAvailable = errors.New("no selector available for task")

// Selector maps a class of tasks to an ordered candidate model list. A nil
// Matches func matches every task.
type Selector struct {
	Name    string
	Matches func(TaskType) bool
	Models  []string
}

// TypeSelector builds a selector matching exactly the given task types.
func TypeSelector(name string, types []TaskType, models []string) Selector {
	set := make(map[TaskType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return Selector{
		Name:   name,
		Models: models,
		Matches: func(t TaskType) bool {
			_, ok := set[t]
			return ok
		},
	}
}

// TaskRouter picks the candidate model list for a task by walking its
// selectors in order and taking the first match.
type TaskRouter struct {
	mu        sync.RWMutex
	selectors []Selector
}

// NewTaskRouter builds a router from the configured selectors plus a
// terminal catch-all over defaultModels, so Select always finds a match.
func NewTaskRouter(selectors []Selector, defaultModels []string) *TaskRouter {
	all := make([]Selector, 0, len(selectors)+1)
	all = append(all, selectors...)
	all = append(all, Selector{Name: "default", Models: defaultModels})
	return &TaskRouter{selectors: all}
}

// AddSelector prepends a selector so it is consulted before all existing
// ones, including the catch-all.
func (r *TaskRouter) AddSelector(s Selector) {
	r.mu.Lock()
	r.selectors = append([]Selector{s}, r.selectors...)
	r.mu.Unlock()
}

// Select returns the candidate models of the first selector matching the
// task, in selector order.
func (r *TaskRouter) Select(task Task) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.selectors {
		if s.Matches == nil || s.Matches(task.Type) {
			models := make([]string, len(s.Models))
			copy(models, s.Models)
			return models, nil
		}
	}
	return nil, ErrNoSelectorAvailable
}
