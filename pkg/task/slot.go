package task

import (
	"fmt"
	"sync"
)

var (
	slotMu    sync.Mutex
	slotNames = make(map[string]struct{})
)

// SlotRef names a blackboard slot in a task descriptor.
type SlotRef interface {
	SlotName() string
}

// Slot is a typed blackboard key. Each slot name maps to exactly one type process wide.
type Slot[T any] struct {
	name string
}

// NewSlot declares a slot. Declaring the same name twice panics.
func NewSlot[T any](name string) Slot[T] {
	slotMu.Lock()
	defer slotMu.Unlock()

	if _, ok := slotNames[name]; ok {
		panic(fmt.Sprintf("task: slot %q declared twice", name))
	}

	slotNames[name] = struct{}{}

	return Slot[T]{name: name}
}

// SlotName returns the slot name.
func (s Slot[T]) SlotName() string { return s.name }

// Blackboard is the per-block shared data area.
type Blackboard struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewBlackboard returns an empty blackboard for one block.
func NewBlackboard() *Blackboard {
	return &Blackboard{values: make(map[string]any)}
}

// Len returns the number of written slots.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.values)
}

// Has reports whether the slot was written.
func (b *Blackboard) Has(s SlotRef) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.values[s.SlotName()]

	return ok
}

// View returns a read handle limited to the given slots.
func (b *Blackboard) View(owner string, reads []SlotRef) *View {
	return &View{bb: b, owner: owner, allowed: slotSet(reads)}
}

// Writer returns a write handle limited to the given slots.
func (b *Blackboard) Writer(owner string, writes []SlotRef) *Writer {
	return &Writer{bb: b, owner: owner, allowed: slotSet(writes)}
}

func slotSet(refs []SlotRef) map[string]struct{} {
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		out[r.SlotName()] = struct{}{}
	}

	return out
}

// View reads declared slots.
type View struct {
	bb      *Blackboard
	owner   string
	allowed map[string]struct{}
}

// Has reports whether a declared slot was written. Slots of skipped dependencies are absent.
func (v *View) Has(s SlotRef) bool {
	if _, ok := v.allowed[s.SlotName()]; !ok {
		return false
	}

	return v.bb.Has(s)
}

// Get returns the value of a declared slot, or the zero value if no task wrote it.
func Get[T any](v *View, s Slot[T]) (T, error) {
	var zero T

	if _, ok := v.allowed[s.name]; !ok {
		return zero, &SlotAccessError{Task: v.owner, Slot: s.name}
	}

	v.bb.mu.RLock()
	raw, ok := v.bb.values[s.name]
	v.bb.mu.RUnlock()

	if !ok {
		return zero, nil
	}

	return raw.(T), nil
}

// Writer writes declared slots.
type Writer struct {
	bb      *Blackboard
	owner   string
	allowed map[string]struct{}
}

// Put stores a value in a declared slot. A slot can only be written once per block.
func Put[T any](w *Writer, s Slot[T], value T) error {
	if _, ok := w.allowed[s.name]; !ok {
		return &SlotAccessError{Task: w.owner, Slot: s.name, Write: true}
	}

	w.bb.mu.Lock()
	defer w.bb.mu.Unlock()

	if _, ok := w.bb.values[s.name]; ok {
		return fmt.Errorf("%w: %s by %s", ErrSlotAlreadyWritten, s.name, w.owner)
	}

	w.bb.values[s.name] = value

	return nil
}
