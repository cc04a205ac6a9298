package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/chpool"
	"github.com/ClickHouse/ch-go/compress"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Client talks to ClickHouse over the native protocol through a connection pool.
type Client struct {
	config      *Config
	compression ch.Compression
	log         logrus.FieldLogger

	mu   sync.RWMutex
	pool *chpool.Pool

	metricsDone chan struct{}
	metricsWg   sync.WaitGroup
}

var _ ClientInterface = (*Client)(nil)

// New creates a client. It does not connect until Start is called.
func New(log logrus.FieldLogger, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	compression := ch.CompressionLZ4

	switch cfg.Compression {
	case "zstd":
		compression = ch.CompressionZSTD
	case "none":
		compression = ch.CompressionDisabled
	}

	return &Client{
		config:      cfg,
		compression: compression,
		log:         log.WithField("component", "clickhouse"),
	}, nil
}

// isRetryableError reports whether err is transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ch.ErrClosed) {
		return false
	}

	if exc, ok := ch.AsException(err); ok {
		return exc.IsCode(
			proto.ErrTimeoutExceeded,
			proto.ErrNoFreeConnection,
			proto.ErrTooManySimultaneousQueries,
			proto.ErrSocketTimeout,
			proto.ErrNetworkError,
		)
	}

	var corrupted *compress.CorruptedDataErr
	if errors.As(err, &corrupted) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "broken pipe", "timeout", "too many connections"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryBaseDelay
	bo.MaxInterval = c.config.RetryMaxDelay
	bo.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries)), ctx)
}

// doWithRetry runs fn with a per-attempt query timeout, retrying transient errors.
func (c *Client) doWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempt := 0

	op := func() error {
		attempt++

		attemptCtx, cancel := c.withQueryTimeout(ctx)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		c.log.WithFields(logrus.Fields{
			"attempt":   attempt,
			"operation": operation,
			"delay":     delay,
		}).WithError(err).Debug("Retrying after transient error")
	}

	return backoff.RetryNotify(op, c.newBackOff(ctx), notify)
}

// withQueryTimeout applies the configured query timeout unless ctx already has a deadline.
func (c *Client) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.QueryTimeout == 0 {
		return ctx, func() {}
	}

	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.config.QueryTimeout)
}

// Start dials the pool. Calling Start on a started client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout*time.Duration(c.config.MaxRetries+1))
	defer cancel()

	var pool *chpool.Pool

	err := backoff.Retry(func() error {
		var dialErr error

		pool, dialErr = chpool.Dial(dialCtx, chpool.Options{
			ClientOptions: ch.Options{
				Address:     c.config.Addr,
				Database:    c.config.Database,
				User:        c.config.Username,
				Password:    c.config.Password,
				Compression: c.compression,
				DialTimeout: c.config.DialTimeout,
			},
			MaxConns:          c.config.MaxConns,
			MinConns:          c.config.MinConns,
			MaxConnLifetime:   c.config.ConnMaxLifetime,
			HealthCheckPeriod: c.config.HealthCheckPeriod,
		})
		if dialErr != nil && !isRetryableError(dialErr) {
			return backoff.Permanent(dialErr)
		}

		return dialErr
	}, c.newBackOff(dialCtx))
	if err != nil {
		return fmt.Errorf("failed to dial clickhouse: %w", err)
	}

	c.pool = pool
	c.metricsDone = make(chan struct{})
	c.metricsWg.Add(1)

	go c.collectPoolMetrics(pool)

	c.log.WithField("addr", c.config.Addr).Info("Connected to ClickHouse")

	return nil
}

// Stop closes the pool. Calling Stop on a stopped client is a no-op.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		return nil
	}

	close(c.metricsDone)
	c.metricsWg.Wait()

	c.pool.Close()
	c.pool = nil

	c.log.Info("Closed ClickHouse connection pool")

	return nil
}

func (c *Client) getPool() (*chpool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.pool == nil {
		return nil, errors.New("clickhouse client not started")
	}

	return c.pool, nil
}

// Execute runs a statement that returns no rows, with retries.
func (c *Client) Execute(ctx context.Context, query string) error {
	pool, err := c.getPool()
	if err != nil {
		return err
	}

	start := time.Now()

	err = c.doWithRetry(ctx, "execute", func(attemptCtx context.Context) error {
		return pool.Do(attemptCtx, ch.Query{Body: query})
	})

	c.recordMetrics("execute", "", start, err)

	if err != nil {
		return fmt.Errorf("execute failed: %w", err)
	}

	return nil
}

func (c *Client) Insert(ctx context.Context, table string, input proto.Input) error {
	pool, err := c.getPool()
	if err != nil {
		return err
	}

	start := time.Now()

	err = c.doWithRetry(ctx, "insert", func(attemptCtx context.Context) error {
		return pool.Do(attemptCtx, ch.Query{
			Body:  input.Into(table),
			Input: input,
		})
	})

	c.recordMetrics("insert", table, start, err)

	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", table, err)
	}

	return nil
}

func (c *Client) recordMetrics(operation, table string, start time.Time, err error) {
	status := statusSuccess
	if err != nil {
		status = statusFailed
	}

	common.ClickHouseOperationDuration.WithLabelValues(c.config.Network, operation, table, status).Observe(time.Since(start).Seconds())
	common.ClickHouseOperationTotal.WithLabelValues(c.config.Network, operation, table, status).Inc()
}

func (c *Client) collectPoolMetrics(pool *chpool.Pool) {
	defer c.metricsWg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.metricsDone:
			return
		case <-ticker.C:
			stat := pool.Stat()

			common.ClickHousePoolAcquiredResources.WithLabelValues(c.config.Network).Set(float64(stat.AcquiredResources()))
			common.ClickHousePoolIdleResources.WithLabelValues(c.config.Network).Set(float64(stat.IdleResources()))
			common.ClickHousePoolTotalResources.WithLabelValues(c.config.Network).Set(float64(stat.TotalResources()))
		}
	}
}
