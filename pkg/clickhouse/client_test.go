package clickhouse

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid", config: Config{Addr: "localhost:9000"}},
		{name: "missing addr", config: Config{}, expectError: true},
		{name: "bad compression", config: Config{Addr: "localhost:9000", Compression: "gzip"}, expectError: true},
		{name: "zstd", config: Config{Addr: "localhost:9000", Compression: "zstd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{Addr: "localhost:9000", MaxConns: 8}
	cfg.SetDefaults()

	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, int32(8), cfg.MaxConns)
	assert.Equal(t, int32(1), cfg.MinConns)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "closed", err: ch.ErrClosed, want: false},
		{name: "conn reset", err: syscall.ECONNRESET, want: true},
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped refused", err: errors.Join(errors.New("dial"), syscall.ECONNREFUSED), want: true},
		{name: "message timeout", err: errors.New("i/o timeout while reading"), want: true},
		{name: "syntax", err: errors.New("syntax error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestClient_doWithRetry(t *testing.T) {
	c, err := New(testLogger(), &Config{Addr: "localhost:9000", RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond})
	require.NoError(t, err)

	attempts := 0
	err = c.doWithRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return io.EOF
		}

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	permanent := errors.New("syntax error")
	err = c.doWithRetry(context.Background(), "test", func(context.Context) error {
		attempts++

		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = c.doWithRetry(context.Background(), "test", func(context.Context) error {
		attempts++

		return io.EOF
	})
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, attempts)
}

func TestClient_withQueryTimeout(t *testing.T) {
	c, err := New(testLogger(), &Config{Addr: "localhost:9000", QueryTimeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := c.withQueryTimeout(context.Background())
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)

	parent, parentCancel := context.WithTimeout(context.Background(), time.Hour)
	defer parentCancel()

	ctx2, cancel2 := c.withQueryTimeout(parent)
	defer cancel2()
	assert.Equal(t, parent, ctx2)
}

func TestClient_NotStarted(t *testing.T) {
	c, err := New(testLogger(), &Config{Addr: "localhost:9000"})
	require.NoError(t, err)

	assert.Error(t, c.Execute(context.Background(), "SELECT 1"))
	assert.NoError(t, c.Stop())
}
