package rowbuffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recorder) flush(_ context.Context, rows []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches = append(r.batches, append([]int(nil), rows...))

	return r.err
}

func (r *recorder) count() (batches, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.batches {
		rows += len(b)
	}

	return len(r.batches), rows
}

func TestBuffer_FlushOnRowLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		buf := New(Config{MaxRows: 10, FlushInterval: time.Hour}, rec.flush, newTestLogger())

		require.NoError(t, buf.Start(context.Background()))

		defer func() { _ = buf.Stop(context.Background()) }()

		require.NoError(t, buf.Add(make([]int, 10)...))

		synctest.Wait()

		batches, rows := rec.count()
		assert.Equal(t, 1, batches)
		assert.Equal(t, 10, rows)
		assert.Equal(t, 0, buf.Len())
	})
}

func TestBuffer_FlushOnTimer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		buf := New(Config{MaxRows: 1000, FlushInterval: time.Second}, rec.flush, newTestLogger())

		require.NoError(t, buf.Start(context.Background()))

		defer func() { _ = buf.Stop(context.Background()) }()

		require.NoError(t, buf.Add(1, 2, 3))

		batches, _ := rec.count()
		assert.Equal(t, 0, batches)

		time.Sleep(time.Second + time.Millisecond)
		synctest.Wait()

		batches, rows := rec.count()
		assert.Equal(t, 1, batches)
		assert.Equal(t, 3, rows)
	})
}

func TestBuffer_StopFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	buf := New(Config{MaxRows: 1000, FlushInterval: time.Hour}, rec.flush, newTestLogger())

	require.NoError(t, buf.Start(context.Background()))
	require.NoError(t, buf.Add(1, 2))
	require.NoError(t, buf.Stop(context.Background()))

	_, rows := rec.count()
	assert.Equal(t, 2, rows)

	assert.Error(t, buf.Add(3), "adding after stop must fail")
}

func TestBuffer_FailedFlushDropsRows(t *testing.T) {
	rec := &recorder{err: errors.New("clickhouse down")}
	buf := New(Config{MaxRows: 1000, FlushInterval: time.Hour}, rec.flush, newTestLogger())

	require.NoError(t, buf.Start(context.Background()))
	require.NoError(t, buf.Add(1, 2, 3))

	err := buf.Flush(context.Background(), "manual")
	require.Error(t, err)
	assert.Equal(t, 0, buf.Len())

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	require.NoError(t, buf.Stop(context.Background()))

	batches, _ := rec.count()
	assert.Equal(t, 1, batches, "nothing left to flush on stop")
}

func TestBuffer_AddBeforeStart(t *testing.T) {
	buf := New(Config{}, func(context.Context, []int) error { return nil }, newTestLogger())

	assert.Error(t, buf.Add(1))
	assert.NoError(t, buf.Add())
	assert.NoError(t, buf.Stop(context.Background()))
}
