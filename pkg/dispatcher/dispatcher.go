// Package dispatcher turns an execution plan into a per-block run graph and executes it.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/plan"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// Options configures a Dispatcher.
type Options struct {
	// MaxParallelism bounds the tasks of one block executing at once. Zero means GOMAXPROCS.
	MaxParallelism int
	// Readonly forces readonly=true into every task config.
	Readonly bool
	Network  string
	// Perf receives per-task durations and the whole dispatch under perf.TotalKey.
	Perf *perf.Aggregator
	// Samples optionally receives every task duration with its block.
	Samples perf.SampleSink
}

// Dispatcher builds and runs the task graph of each block.
type Dispatcher struct {
	log      logrus.FieldLogger
	registry *task.Registry
	plan     *plan.Plan
	opts     Options
}

// New returns a dispatcher for plan p over registry.
func New(log logrus.FieldLogger, registry *task.Registry, p *plan.Plan, opts Options) *Dispatcher {
	if opts.MaxParallelism <= 0 {
		opts.MaxParallelism = runtime.GOMAXPROCS(0)
	}

	if opts.Perf == nil {
		opts.Perf = perf.NewAggregator()
	}

	if opts.Readonly {
		p = p.WithConfig(task.KeyReadonly, true)
	}

	return &Dispatcher{
		log:      log.WithField("component", "dispatcher"),
		registry: registry,
		plan:     p,
		opts:     opts,
	}
}

// Perf returns the aggregator task durations are recorded in.
func (d *Dispatcher) Perf() *perf.Aggregator { return d.opts.Perf }

// Plan returns the effective plan.
func (d *Dispatcher) Plan() *plan.Plan { return d.plan }

// Build evaluates every planned task of the block's era and returns the tasks that run.
func (d *Dispatcher) Build(block *task.BlockInfo) (*RunGraph, error) {
	g := newRunGraph(block.Era)

	for _, entry := range d.plan.Entries {
		if !d.registry.Known(entry.Name) {
			return nil, &UnknownTaskError{Task: entry.Name}
		}

		t, ok := d.registry.Find(block.Era, entry.Name)
		if !ok {
			continue
		}

		desc := t.Descriptor()

		for _, dep := range desc.Dependencies {
			if _, ok := d.registry.Find(block.Era, dep); !ok {
				return nil, &MissingDependencyError{Task: desc.Name, Dependency: dep, Era: block.Era.String()}
			}
		}

		cfg := entry.Config
		if cfg == nil {
			cfg = task.Config{}
		}

		prerun := t.ShouldRun(block, cfg)
		if !prerun.ShouldRun() {
			g.Skipped = append(g.Skipped, desc.Name)
			common.TasksSkipped.WithLabelValues(d.opts.Network, desc.Name).Inc()

			continue
		}

		g.add(&node{
			name:   desc.Name,
			task:   t,
			config: cfg,
			prerun: prerun,
			deps:   append([]string(nil), desc.Dependencies...),
		})
	}

	g.filterDeps()

	if _, err := g.order(); err != nil {
		return nil, err
	}

	return g, nil
}

// Run executes the block's run graph inside tx. Tasks start once all their running dependencies
// completed; the first failure cancels the others and is returned.
func (d *Dispatcher) Run(ctx context.Context, block *task.BlockInfo, tx store.Tx) error {
	g, err := d.Build(block)
	if err != nil {
		return err
	}

	if g.Len() == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		d.opts.Perf.Add(perf.TotalKey, time.Since(start))
	}()

	bb := task.NewBlackboard()
	sem := semaphore.NewWeighted(int64(d.opts.MaxParallelism))

	done := make(map[string]chan struct{}, g.Len())
	for _, n := range g.nodes {
		done[n.name] = make(chan struct{})
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for _, n := range g.nodes {
		eg.Go(func() error {
			for _, dep := range n.deps {
				select {
				case <-done[dep]:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}

			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := d.execute(egCtx, n, block, tx, bb); err != nil {
				return err
			}

			close(done[n.name])

			return nil
		})
	}

	return eg.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, n *node, block *task.BlockInfo, tx store.Tx, bb *task.Blackboard) error {
	desc := n.task.Descriptor()

	tc := &task.Context{
		Block:  block,
		Tx:     tx,
		Config: n.config,
		Prerun: n.prerun.Data(),
		View:   bb.View(desc.Name, desc.Reads),
		Log: d.log.WithFields(logrus.Fields{
			"task": desc.Name,
			"era":  block.Era.String(),
			"slot": block.Slot,
		}),
	}

	start := time.Now()
	result, err := safeExecute(ctx, n.task, tc)
	elapsed := time.Since(start)

	d.opts.Perf.Add(desc.Name, elapsed)
	common.TaskDuration.WithLabelValues(d.opts.Network, desc.Name).Observe(elapsed.Seconds())

	if d.opts.Samples != nil {
		d.opts.Samples.Sample(perf.Sample{
			Network:  d.opts.Network,
			Epoch:    block.Epoch,
			Slot:     block.Slot,
			Height:   block.Height,
			Task:     desc.Name,
			Duration: elapsed,
			At:       start,
		})
	}

	if err == nil && result != nil {
		err = result.Merge(bb.Writer(desc.Name, desc.Writes))
	}

	if err != nil {
		common.TaskErrors.WithLabelValues(d.opts.Network, desc.Name).Inc()

		return &TaskError{Task: desc.Name, Err: err}
	}

	return nil
}

func safeExecute(ctx context.Context, t task.Task, tc *task.Context) (result task.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			tc.Log.WithField("stack", string(debug.Stack())).Error("Task panicked")

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return t.Execute(ctx, tc)
}
