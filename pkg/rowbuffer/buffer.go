// Package rowbuffer batches rows for ClickHouse inserts. Producers add rows without waiting;
// rows are flushed when the buffer reaches MaxRows or every FlushInterval.
package rowbuffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
)

// FlushFunc writes a batch of rows.
type FlushFunc[R any] func(ctx context.Context, rows []R) error

// Config bounds a buffer. Network and Table label metrics.
type Config struct {
	MaxRows       int
	FlushInterval time.Duration
	Network       string
	Table         string
}

// Buffer collects rows and flushes them by size or interval.
type Buffer[R any] struct {
	mu      sync.Mutex
	rows    []R
	started bool

	// flushMu keeps batches in submission order.
	flushMu sync.Mutex

	config  Config
	flushFn FlushFunc[R]
	log     logrus.FieldLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a buffer flushing through flushFn. Start must be called before Add.
func New[R any](cfg Config, flushFn FlushFunc[R], log logrus.FieldLogger) *Buffer[R] {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &Buffer[R]{
		rows:    make([]R, 0, cfg.MaxRows),
		config:  cfg,
		flushFn: flushFn,
		log:     log.WithFields(logrus.Fields{"component": "rowbuffer", "table": cfg.Table}),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the flush timer.
func (b *Buffer[R]) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	b.started = true

	b.wg.Go(func() { b.runTimer(ctx) })

	return nil
}

// Stop halts the timer, waits for in-flight flushes and flushes what is left.
func (b *Buffer[R]) Stop(ctx context.Context) error {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return nil
	}

	b.started = false
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	return b.Flush(ctx, "shutdown")
}

// Add appends rows. It never blocks on ClickHouse.
func (b *Buffer[R]) Add(rows ...R) error {
	if len(rows) == 0 {
		return nil
	}

	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return errors.New("row buffer is not started")
	}

	b.rows = append(b.rows, rows...)
	full := len(b.rows) >= b.config.MaxRows
	common.RowBufferPendingRows.WithLabelValues(b.config.Network, b.config.Table).Set(float64(len(b.rows)))

	b.mu.Unlock()

	if full {
		b.wg.Go(func() { _ = b.Flush(context.Background(), "size") })
	}

	return nil
}

// Flush writes everything buffered so far.
func (b *Buffer[R]) Flush(ctx context.Context, trigger string) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	rows := b.rows
	b.rows = make([]R, 0, b.config.MaxRows)
	b.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	err := b.flushFn(ctx, rows)

	status := "success"
	if err != nil {
		status = "failed"

		common.RowBufferDroppedRows.WithLabelValues(b.config.Network, b.config.Table).Add(float64(len(rows)))
		b.log.WithError(err).WithFields(logrus.Fields{
			"rows":    len(rows),
			"trigger": trigger,
		}).Warn("Row buffer flush failed, rows dropped")
	} else {
		b.log.WithFields(logrus.Fields{
			"rows":     len(rows),
			"trigger":  trigger,
			"duration": time.Since(start),
		}).Debug("Row buffer flushed")
	}

	common.RowBufferFlushTotal.WithLabelValues(b.config.Network, b.config.Table, trigger, status).Inc()
	common.RowBufferFlushDuration.WithLabelValues(b.config.Network, b.config.Table).Observe(time.Since(start).Seconds())
	common.RowBufferPendingRows.WithLabelValues(b.config.Network, b.config.Table).Set(float64(b.Len()))

	return err
}

func (b *Buffer[R]) runTimer(ctx context.Context) {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = b.Flush(ctx, "timer")
		}
	}
}

// Len returns the number of buffered rows.
func (b *Buffer[R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.rows)
}
