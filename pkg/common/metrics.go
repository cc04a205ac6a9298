package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChainTipSlot = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_tip_slot",
		Help: "Slot of the latest indexed block",
	}, []string{"network"})

	ChainTipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_tip_height",
		Help: "Height of the latest indexed block",
	}, []string{"network"})

	ChainTipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_tip_epoch",
		Help: "Epoch of the latest indexed block",
	}, []string{"network"})

	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_blocks_processed_total",
		Help: "Total number of blocks committed",
	}, []string{"network", "era"})

	BlocksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_blocks_skipped_total",
		Help: "Total number of block events skipped because the block was already stored",
	}, []string{"network"})

	BlockProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_block_processing_duration_seconds",
		Help:    "Time taken to index a block, transaction included",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"network", "era"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_task_duration_seconds",
		Help:    "Time taken by a task for one block",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"network", "task"})

	TasksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_tasks_skipped_total",
		Help: "Total number of times a task's predicate excluded it from a block",
	}, []string{"network", "task"})

	TaskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_task_errors_total",
		Help: "Total number of task failures",
	}, []string{"network", "task"})

	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_rollbacks_total",
		Help: "Total number of rollback events by outcome",
	}, []string{"network", "outcome"})

	RollbackDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_rollback_depth_blocks",
		Help:    "Number of blocks removed by a rollback",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"network"})

	SourceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_source_events_total",
		Help: "Total number of events read from the source",
	}, []string{"network", "source", "kind"})

	SourceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_source_reconnects_total",
		Help: "Total number of source read retries",
	}, []string{"network", "source"})

	ClickHouseOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_clickhouse_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"network", "operation", "table", "status"})

	ClickHouseOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_clickhouse_operation_total",
		Help: "Total number of ClickHouse operations",
	}, []string{"network", "operation", "table", "status"})

	ClickHousePoolAcquiredResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_clickhouse_pool_acquired_resources",
		Help: "Number of currently acquired resources in the ClickHouse connection pool",
	}, []string{"network"})

	ClickHousePoolIdleResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_clickhouse_pool_idle_resources",
		Help: "Number of currently idle resources in the ClickHouse connection pool",
	}, []string{"network"})

	ClickHousePoolTotalResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_clickhouse_pool_total_resources",
		Help: "Total number of resources in the ClickHouse connection pool",
	}, []string{"network"})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_leader_election_status",
		Help: "Current leader election status (1 = leader, 0 = follower)",
	}, []string{"network", "node_id"})

	LeaderElectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_leader_election_transitions_total",
		Help: "Total number of leader election transitions",
	}, []string{"network", "node_id", "transition"})

	LeaderElectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_leader_election_duration_seconds",
		Help:    "Duration in seconds this node held leadership",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15),
	}, []string{"network", "node_id"})

	LeaderElectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_leader_election_errors_total",
		Help: "Total number of errors during leader election",
	}, []string{"network", "node_id", "operation"})

	RowBufferFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_row_buffer_flush_total",
		Help: "Total number of row buffer flushes",
	}, []string{"network", "table", "trigger", "status"})

	RowBufferFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardano_indexer_row_buffer_flush_duration_seconds",
		Help:    "Duration of row buffer flushes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"network", "table"})

	RowBufferPendingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardano_indexer_row_buffer_pending_rows",
		Help: "Rows waiting in the row buffer",
	}, []string{"network", "table"})

	RowBufferDroppedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardano_indexer_row_buffer_dropped_rows_total",
		Help: "Rows discarded after a failed flush",
	}, []string{"network", "table"})
)
