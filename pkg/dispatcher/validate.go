package dispatcher

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// PlannedTask is the static view of a planned task within one era.
type PlannedTask struct {
	Name string `json:"name"`
	// Dependencies are limited to tasks that are planned for the era.
	Dependencies []string    `json:"dependencies"`
	Reads        []string    `json:"reads"`
	Writes       []string    `json:"writes"`
	Config       task.Config `json:"config,omitempty"`
}

// Describe returns the era's planned tasks in an order that satisfies their dependencies.
func (d *Dispatcher) Describe(era task.Era) ([]PlannedTask, error) {
	byName := make(map[string]PlannedTask)

	var names []string

	for _, entry := range d.plan.Entries {
		if !d.registry.Known(entry.Name) {
			return nil, &UnknownTaskError{Task: entry.Name}
		}

		t, ok := d.registry.Find(era, entry.Name)
		if !ok {
			continue
		}

		desc := t.Descriptor()
		for _, dep := range desc.Dependencies {
			if _, ok := d.registry.Find(era, dep); !ok {
				return nil, &MissingDependencyError{Task: desc.Name, Dependency: dep, Era: era.String()}
			}
		}

		names = append(names, desc.Name)
		byName[desc.Name] = PlannedTask{
			Name:         desc.Name,
			Dependencies: desc.Dependencies,
			Reads:        slotNames(desc.Reads),
			Writes:       slotNames(desc.Writes),
			Config:       entry.Config,
		}
	}

	for _, name := range names {
		p := byName[name]

		var deps []string

		for _, dep := range p.Dependencies {
			if _, ok := byName[dep]; ok {
				deps = append(deps, dep)
			}
		}

		p.Dependencies = deps
		byName[name] = p
	}

	ordered, err := topoSort(names, func(name string) []string { return byName[name].Dependencies })
	if err != nil {
		return nil, err
	}

	out := make([]PlannedTask, len(ordered))
	for i, name := range ordered {
		out[i] = byName[name]
	}

	return out, nil
}

// Validate checks the plan against the registry for every era: unknown tasks, missing
// dependencies, cycles, and slots written by two tasks that may run in either order. Reads of
// slots no planned task writes are logged.
func (d *Dispatcher) Validate() error {
	for _, era := range task.Eras() {
		planned, err := d.Describe(era)
		if err != nil {
			return err
		}

		if err := checkWriteSlots(planned); err != nil {
			return err
		}

		written := make(map[string]bool)

		for _, p := range planned {
			for _, s := range p.Writes {
				written[s] = true
			}
		}

		for _, p := range planned {
			for _, s := range p.Reads {
				if !written[s] {
					d.log.WithFields(logrus.Fields{
						"era":  era.String(),
						"task": p.Name,
						"slot": s,
					}).Warn("Task reads a slot no planned task writes")
				}
			}
		}
	}

	return nil
}

// checkWriteSlots requires writers of the same slot to be ordered by a dependency path.
func checkWriteSlots(planned []PlannedTask) error {
	deps := make(map[string][]string, len(planned))
	writers := make(map[string][]string)

	for _, p := range planned {
		deps[p.Name] = p.Dependencies

		for _, s := range p.Writes {
			writers[s] = append(writers[s], p.Name)
		}
	}

	slots := make([]string, 0, len(writers))
	for s := range writers {
		slots = append(slots, s)
	}

	sort.Strings(slots)

	for _, s := range slots {
		ws := writers[s]

		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				if !reaches(deps, ws[i], ws[j]) && !reaches(deps, ws[j], ws[i]) {
					return &WriteSlotConflictError{Slot: s, Tasks: [2]string{ws[i], ws[j]}}
				}
			}
		}
	}

	return nil
}

// reaches reports whether from transitively depends on to.
func reaches(deps map[string][]string, from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, d := range deps[n] {
			if d == to {
				return true
			}

			if !seen[d] {
				seen[d] = true
				stack = append(stack, d)
			}
		}
	}

	return false
}

func slotNames(refs []task.SlotRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.SlotName()
	}

	return out
}
