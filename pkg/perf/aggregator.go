// Package perf accumulates execution timings per name and reports them once per epoch.
package perf

import (
	"sort"
	"sync"
	"time"
)

// TotalKey is the reserved name under which a whole dispatch is timed.
const TotalKey = "total"

// Stat is the accumulated time spent under one name.
type Stat struct {
	Name  string
	Total time.Duration
	Count int64
}

// Mean returns the average duration per sample.
func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}

	return s.Total / time.Duration(s.Count)
}

// Aggregator is safe for concurrent use by the tasks of a block.
type Aggregator struct {
	mu    sync.Mutex
	stats map[string]*Stat
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{stats: make(map[string]*Stat)}
}

// Add records one sample.
func (a *Aggregator) Add(name string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.stats[name]
	if !ok {
		s = &Stat{Name: name}
		a.stats[name] = s
	}

	s.Total += d
	s.Count++
}

// Get returns the stat for name.
func (a *Aggregator) Get(name string) (Stat, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.stats[name]
	if !ok {
		return Stat{}, false
	}

	return *s, true
}

// Len returns the number of names with at least one sample.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.stats)
}

// Snapshot returns every stat ordered by total duration, longest first.
func (a *Aggregator) Snapshot() []Stat {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshotLocked()
}

// Flush returns the snapshot and resets the aggregator in one step.
func (a *Aggregator) Flush() []Stat {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.snapshotLocked()
	a.stats = make(map[string]*Stat)

	return out
}

// Reset drops every sample.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.stats = make(map[string]*Stat)
	a.mu.Unlock()
}

func (a *Aggregator) snapshotLocked() []Stat {
	out := make([]Stat, 0, len(a.stats))
	for _, s := range a.stats {
		out = append(out, *s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}

		return out[i].Name < out[j].Name
	})

	return out
}
