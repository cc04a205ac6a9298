// Package source delivers chain events to the sink.
package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

// Kind is the kind of a source event.
type Kind int

const (
	KindBlock Kind = iota + 1
	KindRollback
)

// String returns "block" or "rollback".
func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindRollback:
		return "rollback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var ErrInvalidEvent = errors.New("invalid source event")

// Event is a block to index or a point to roll back to.
type Event struct {
	Kind Kind
	// ID is the source position of the event, handed back on Ack.
	ID string

	Slot uint64
	Hash []byte

	// Block events only.
	BlockType uint
	Payload   []byte
	Epoch     uint64
	Height    uint64
}

// HashHex returns the event hash hex encoded.
func (e *Event) HashHex() string { return hex.EncodeToString(e.Hash) }

// Source is a sequential stream of events. Pull returns a nil event once the stream is drained
// and the source does not wait for more.
type Source interface {
	Pull(ctx context.Context) (*Event, error)
	// Ack records that the event was fully handled.
	Ack(ctx context.Context, ev *Event) error
	Close() error
}

// Slice is an in-memory source, used by tests and tooling.
type Slice struct {
	events []*Event
	next   int
	acked  []*Event
}

// NewSlice returns a source yielding events in order.
func NewSlice(events ...*Event) *Slice {
	return &Slice{events: events}
}

// Pull returns the next event, or nil once every event was pulled.
func (s *Slice) Pull(ctx context.Context) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.next >= len(s.events) {
		return nil, nil
	}

	ev := s.events[s.next]
	s.next++

	return ev, nil
}

// Ack records ev as acknowledged.
func (s *Slice) Ack(_ context.Context, ev *Event) error {
	s.acked = append(s.acked, ev)

	return nil
}

// Acked returns the acknowledged events in order.
func (s *Slice) Acked() []*Event { return s.acked }

func (s *Slice) Close() error { return nil }
