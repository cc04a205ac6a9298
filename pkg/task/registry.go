package task

import (
	"errors"
	"fmt"
	"sync"
)

// Registry holds every task known to the process, partitioned by era. It is populated once at
// startup by the era packages' Register functions and sealed before use.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	eras   map[Era]*eraTasks
}

type eraTasks struct {
	order  []Task
	byName map[string]Task
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{eras: make(map[Era]*eraTasks)}
}

// Register adds a task to its era.
func (r *Registry) Register(t Task) error {
	d := t.Descriptor()
	if d.Name == "" {
		return errors.New("task registered without a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, d.Name)
	}

	et, ok := r.eras[d.Era]
	if !ok {
		et = &eraTasks{byName: make(map[string]Task)}
		r.eras[d.Era] = et
	}

	if _, exists := et.byName[d.Name]; exists {
		return fmt.Errorf("%w: %s (%s)", ErrDuplicateTask, d.Name, d.Era)
	}

	et.order = append(et.order, t)
	et.byName[d.Name] = t

	return nil
}

// MustRegister registers tasks and panics on error.
func (r *Registry) MustRegister(tasks ...Task) {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Find returns the task registered under name for era.
func (r *Registry) Find(era Era, name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	et, ok := r.eras[era]
	if !ok {
		return nil, false
	}

	t, ok := et.byName[name]

	return t, ok
}

// Tasks returns the era's tasks in registration order.
func (r *Registry) Tasks(era Era) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	et, ok := r.eras[era]
	if !ok {
		return nil
	}

	out := make([]Task, len(et.order))
	copy(out, et.order)

	return out
}

// Eras returns the eras a task name is registered for.
func (r *Registry) Eras(name string) []Era {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Era

	for _, era := range Eras() {
		if et, ok := r.eras[era]; ok {
			if _, found := et.byName[name]; found {
				out = append(out, era)
			}
		}
	}

	return out
}

// Known reports whether name is registered for any era.
func (r *Registry) Known(name string) bool {
	return len(r.Eras(name)) > 0
}
