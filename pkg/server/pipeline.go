package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/config"
	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/plan"
	"github.com/ethpandaops/cardano-indexer/pkg/processor"
	"github.com/ethpandaops/cardano-indexer/pkg/sink"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
	"github.com/ethpandaops/cardano-indexer/pkg/store/postgres"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks"
)

// PipelineOptions configures NewDispatcher and NewPipeline.
type PipelineOptions struct {
	Network        string
	Readonly       bool
	MaxParallelism int
	Samples        perf.SampleSink
	// Decoder defaults to the gouroboros decoder.
	Decoder cardano.Decoder
}

// NewDispatcher loads the execution plan, builds the task registry and validates the plan
// against it.
func NewDispatcher(ctx context.Context, log logrus.FieldLogger, planLocation string, opts PipelineOptions, taskPerf *perf.Aggregator) (*dispatcher.Dispatcher, error) {
	p, err := plan.Load(ctx, planLocation)
	if err != nil {
		return nil, fmt.Errorf("load execution plan: %w", err)
	}

	registry, err := tasks.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build task registry: %w", err)
	}

	d := dispatcher.New(log, registry, p, dispatcher.Options{
		MaxParallelism: opts.MaxParallelism,
		Readonly:       opts.Readonly,
		Network:        opts.Network,
		Perf:           taskPerf,
		Samples:        opts.Samples,
	})

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution plan %s: %w", p.Location, err)
	}

	log.WithFields(logrus.Fields{
		"plan":     p.Location,
		"tasks":    len(p.Entries),
		"readonly": opts.Readonly,
	}).Info("Loaded execution plan")

	return d, nil
}

// Pipeline is the block indexing stack: the dispatcher and one processor per era.
type Pipeline struct {
	Dispatcher *dispatcher.Dispatcher
	Tasks      *perf.Aggregator
	Phases     *perf.Aggregator
	Genesis    *processor.Genesis
	Byron      *processor.Byron
	MultiEra   *processor.MultiEra
}

// NewPipeline builds the dispatcher and the era processors over s.
func NewPipeline(ctx context.Context, log logrus.FieldLogger, s store.Store, planLocation string, opts PipelineOptions) (*Pipeline, error) {
	taskPerf := perf.NewAggregator()
	phases := perf.NewAggregator()

	d, err := NewDispatcher(ctx, log, planLocation, opts, taskPerf)
	if err != nil {
		return nil, err
	}

	decoder := opts.Decoder
	if decoder == nil {
		decoder = cardano.NewDecoder()
	}

	procOpts := processor.Options{Network: opts.Network, Phases: phases}

	return &Pipeline{
		Dispatcher: d,
		Tasks:      taskPerf,
		Phases:     phases,
		Genesis:    processor.NewGenesis(log, s, d, procOpts),
		Byron:      processor.NewByron(log, s, decoder, d, procOpts),
		MultiEra:   processor.NewMultiEra(log, s, decoder, d, procOpts),
	}, nil
}

// SinkDependencies returns sink dependencies wired to the pipeline's processors and aggregators.
func (p *Pipeline) SinkDependencies(s store.Store, src source.Source, reporter perf.Reporter) sink.Dependencies {
	return sink.Dependencies{
		Store:    s,
		Source:   src,
		Byron:    p.Byron,
		MultiEra: p.MultiEra,
		Genesis:  p.Genesis,
		Tasks:    p.Tasks,
		Phases:   p.Phases,
		Reporter: reporter,
	}
}

// OpenStore opens the configured store.
func OpenStore(ctx context.Context, log logrus.FieldLogger, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("Using the in-memory store - indexed data is lost on exit")

		return memory.New(), nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, log, &cfg.Postgres)
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
