package task

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/store"
)

// Descriptor is the static declaration of a task.
type Descriptor struct {
	// Name is unique within an era and stable across releases; plans refer to tasks by name.
	Name string
	Era  Era
	// Dependencies are the names of tasks that must complete before this one starts.
	Dependencies []string
	Reads        []SlotRef
	Writes       []SlotRef
}

// Task is one unit of per-block indexing work.
type Task interface {
	Descriptor() Descriptor
	// ShouldRun decides whether the task participates in the block. It must not have side
	// effects. Data returned through RunWith is handed to Execute as Context.Prerun.
	ShouldRun(block *BlockInfo, cfg Config) Prerun
	Execute(ctx context.Context, tc *Context) (Result, error)
}

// Prerun is the outcome of a task's ShouldRun predicate.
type Prerun struct {
	run  bool
	data any
}

// Skip excludes the task from the block's run graph.
func Skip() Prerun { return Prerun{} }

// Run includes the task without prerun data.
func Run() Prerun { return Prerun{run: true} }

// RunWith includes the task and hands data to Execute.
func RunWith(data any) Prerun { return Prerun{run: true, data: data} }

// When is the boolean flavour of a predicate.
func When(ok bool) Prerun {
	if ok {
		return Run()
	}

	return Skip()
}

// ShouldRun reports whether the task runs.
func (p Prerun) ShouldRun() bool { return p.run }

// Data returns the prerun data, if any.
func (p Prerun) Data() any { return p.data }

// Context is everything a task sees while executing.
type Context struct {
	Block  *BlockInfo
	Tx     store.Tx
	Config Config
	Prerun any
	View   *View
	Log    logrus.FieldLogger
}

// PrerunData returns the prerun data typed as T.
func PrerunData[T any](tc *Context) (T, bool) {
	v, ok := tc.Prerun.(T)

	return v, ok
}

// Result is what a task produced. Merge runs synchronously after Execute and is the only place
// the blackboard is written.
type Result interface {
	Merge(w *Writer) error
}

// MergeFunc adapts a function to Result.
type MergeFunc func(w *Writer) error

// Merge calls f.
func (f MergeFunc) Merge(w *Writer) error { return f(w) }

// Output is a Result that writes a single slot.
func Output[T any](s Slot[T], v T) Result {
	return MergeFunc(func(w *Writer) error {
		return Put(w, s, v)
	})
}
