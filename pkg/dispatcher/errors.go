package dispatcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrMissingDependency = errors.New("missing dependency")
	ErrDependencyCycle   = errors.New("dependency cycle")
	ErrWriteSlotConflict = errors.New("write slot conflict")
)

// UnknownTaskError is returned when a plan names a task no era registers.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("execution plan names unknown task %q", e.Task)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// MissingDependencyError is returned when a task depends on a name its era does not register.
type MissingDependencyError struct {
	Task       string
	Dependency string
	Era        string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on %s which is not registered for era %s", e.Task, e.Dependency, e.Era)
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// CycleError lists the tasks that could not be ordered.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between %s", strings.Join(e.Tasks, ", "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// WriteSlotConflictError is returned when two tasks may write the same slot in either order.
type WriteSlotConflictError struct {
	Slot  string
	Tasks [2]string
}

func (e *WriteSlotConflictError) Error() string {
	return fmt.Sprintf("tasks %s and %s both write slot %q without depending on each other", e.Tasks[0], e.Tasks[1], e.Slot)
}

func (e *WriteSlotConflictError) Unwrap() error { return ErrWriteSlotConflict }

// TaskError wraps the failure of one task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
