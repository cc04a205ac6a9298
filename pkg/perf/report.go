package perf

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind tells which aggregator a report comes from.
type Kind string

const (
	KindTask  Kind = "task"
	KindPhase Kind = "phase"
)

// Report is the content of an aggregator at the end of an epoch.
type Report struct {
	Network string
	Epoch   uint64
	Kind    Kind
	Stats   []Stat
	At      time.Time
}

// Total returns the summed duration of every stat except TotalKey.
func (r Report) Total() time.Duration {
	var d time.Duration

	for _, s := range r.Stats {
		if s.Name != TotalKey {
			d += s.Total
		}
	}

	return d
}

// Reporter publishes epoch reports.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Sample is one task execution within one block.
type Sample struct {
	Network  string
	Epoch    uint64
	Slot     uint64
	Height   uint64
	Task     string
	Duration time.Duration
	At       time.Time
}

// SampleSink receives per-block samples. Implementations must not block.
type SampleSink interface {
	Sample(s Sample)
}

// LogReporter writes reports to the log.
type LogReporter struct {
	log logrus.FieldLogger
}

// NewLogReporter returns a reporter logging at info.
func NewLogReporter(log logrus.FieldLogger) *LogReporter {
	return &LogReporter{log: log.WithField("component", "perf")}
}

// Report logs one line per stat. Empty reports are dropped.
func (l *LogReporter) Report(_ context.Context, r Report) error {
	if len(r.Stats) == 0 {
		return nil
	}

	entry := l.log.WithFields(logrus.Fields{
		"epoch": r.Epoch,
		"kind":  r.Kind,
	})

	entry.WithField("names", len(r.Stats)).Info("Epoch performance report")

	for _, s := range r.Stats {
		entry.WithFields(logrus.Fields{
			"name":  s.Name,
			"total": s.Total,
			"count": s.Count,
			"mean":  s.Mean(),
		}).Info("Epoch performance")
	}

	return nil
}

// MultiReporter fans a report out to several reporters and joins their errors.
type MultiReporter []Reporter

// Report sends r to every reporter.
func (m MultiReporter) Report(ctx context.Context, r Report) error {
	var errs []error

	for _, rep := range m {
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
