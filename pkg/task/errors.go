package task

import (
	"errors"
	"fmt"
)

var (
	ErrRegistrySealed     = errors.New("task registry is sealed")
	ErrDuplicateTask      = errors.New("task already registered")
	ErrSlotAlreadyWritten = errors.New("slot already written for this block")
)

// SlotAccessError is returned when a task touches a slot it did not declare.
type SlotAccessError struct {
	Task  string
	Slot  string
	Write bool
}

func (e *SlotAccessError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}

	return fmt.Sprintf("task %s: undeclared %s of slot %q", e.Task, op, e.Slot)
}
