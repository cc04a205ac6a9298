package perf

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/clickhouse"
	"github.com/ethpandaops/cardano-indexer/pkg/rowbuffer"
)

const (
	EpochTable  = "task_perf_epoch"
	SampleTable = "task_perf_block"
)

// ClickHouseConfig controls the ClickHouse exporter.
type ClickHouseConfig struct {
	Network       string
	Samples       bool
	MaxRows       int
	FlushInterval time.Duration
}

// ClickHouseReporter writes epoch reports to EpochTable and, when enabled, per-block samples to
// SampleTable through a row buffer.
type ClickHouseReporter struct {
	log     logrus.FieldLogger
	client  clickhouse.ClientInterface
	config  ClickHouseConfig
	samples *rowbuffer.Buffer[Sample]
}

// NewClickHouseReporter returns a reporter writing through client.
func NewClickHouseReporter(log logrus.FieldLogger, client clickhouse.ClientInterface, cfg ClickHouseConfig) *ClickHouseReporter {
	r := &ClickHouseReporter{
		log:    log.WithField("component", "perf_clickhouse"),
		client: client,
		config: cfg,
	}

	if cfg.Samples {
		r.samples = rowbuffer.New(rowbuffer.Config{
			MaxRows:       cfg.MaxRows,
			FlushInterval: cfg.FlushInterval,
			Network:       cfg.Network,
			Table:         SampleTable,
		}, r.flushSamples, log)
	}

	return r
}

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + EpochTable + ` (
		updated_date_time DateTime,
		meta_network_name LowCardinality(String),
		epoch UInt64,
		kind LowCardinality(String),
		name String,
		total_ns UInt64,
		count UInt64
	) ENGINE = ReplacingMergeTree(updated_date_time)
	ORDER BY (meta_network_name, epoch, kind, name)`,
	`CREATE TABLE IF NOT EXISTS ` + SampleTable + ` (
		updated_date_time DateTime,
		meta_network_name LowCardinality(String),
		epoch UInt64,
		slot UInt64,
		height UInt64,
		task LowCardinality(String),
		duration_ns UInt64
	) ENGINE = MergeTree
	ORDER BY (meta_network_name, slot, task)`,
}

// Start creates the tables if needed and starts the sample buffer.
func (r *ClickHouseReporter) Start(ctx context.Context) error {
	for _, ddl := range tableDDL {
		if err := r.client.Execute(ctx, ddl); err != nil {
			return fmt.Errorf("create telemetry table: %w", err)
		}
	}

	if r.samples == nil {
		return nil
	}

	return r.samples.Start(ctx)
}

// Stop flushes pending samples.
func (r *ClickHouseReporter) Stop(ctx context.Context) error {
	if r.samples == nil {
		return nil
	}

	return r.samples.Stop(ctx)
}

// Report inserts one row per stat into EpochTable.
func (r *ClickHouseReporter) Report(ctx context.Context, rep Report) error {
	if len(rep.Stats) == 0 {
		return nil
	}

	cols := newEpochColumns()
	for _, s := range rep.Stats {
		cols.append(rep, s)
	}

	if err := r.client.Insert(ctx, EpochTable, cols.input()); err != nil {
		return fmt.Errorf("insert epoch report: %w", err)
	}

	return nil
}

// Sample queues a per-block sample. It is a no-op when samples are disabled.
func (r *ClickHouseReporter) Sample(s Sample) {
	if r.samples == nil {
		return
	}

	if err := r.samples.Add(s); err != nil {
		r.log.WithError(err).Debug("Dropping task sample")
	}
}

func (r *ClickHouseReporter) flushSamples(ctx context.Context, samples []Sample) error {
	cols := newSampleColumns()
	for _, s := range samples {
		cols.append(s)
	}

	return r.client.Insert(ctx, SampleTable, cols.input())
}

type epochColumns struct {
	UpdatedDateTime proto.ColDateTime
	Network         proto.ColStr
	Epoch           proto.ColUInt64
	Kind            proto.ColStr
	Name            proto.ColStr
	TotalNanos      proto.ColUInt64
	Count           proto.ColUInt64
}

func newEpochColumns() *epochColumns { return &epochColumns{} }

func (c *epochColumns) append(r Report, s Stat) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	c.UpdatedDateTime.Append(at)
	c.Network.Append(r.Network)
	c.Epoch.Append(r.Epoch)
	c.Kind.Append(string(r.Kind))
	c.Name.Append(s.Name)
	c.TotalNanos.Append(uint64(s.Total.Nanoseconds()))
	c.Count.Append(uint64(s.Count))
}

func (c *epochColumns) input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "meta_network_name", Data: &c.Network},
		{Name: "epoch", Data: &c.Epoch},
		{Name: "kind", Data: &c.Kind},
		{Name: "name", Data: &c.Name},
		{Name: "total_ns", Data: &c.TotalNanos},
		{Name: "count", Data: &c.Count},
	}
}

type sampleColumns struct {
	UpdatedDateTime proto.ColDateTime
	Network         proto.ColStr
	Epoch           proto.ColUInt64
	Slot            proto.ColUInt64
	Height          proto.ColUInt64
	Task            proto.ColStr
	DurationNanos   proto.ColUInt64
}

func newSampleColumns() *sampleColumns { return &sampleColumns{} }

func (c *sampleColumns) append(s Sample) {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	c.UpdatedDateTime.Append(at)
	c.Network.Append(s.Network)
	c.Epoch.Append(s.Epoch)
	c.Slot.Append(s.Slot)
	c.Height.Append(s.Height)
	c.Task.Append(s.Task)
	c.DurationNanos.Append(uint64(s.Duration.Nanoseconds()))
}

func (c *sampleColumns) input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "meta_network_name", Data: &c.Network},
		{Name: "epoch", Data: &c.Epoch},
		{Name: "slot", Data: &c.Slot},
		{Name: "height", Data: &c.Height},
		{Name: "task", Data: &c.Task},
		{Name: "duration_ns", Data: &c.DurationNanos},
	}
}
