//go:build integration

package clickhouse

import (
	"context"
	"testing"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/internal/testutil"
)

func TestClient_Integration_Insert(t *testing.T) {
	conn := testutil.NewClickHouseContainer(t)
	ctx := context.Background()

	c, err := New(testLogger(), &Config{
		Addr:     conn.Addr(),
		Database: conn.Database,
		Username: conn.Username,
		Password: conn.Password,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	t.Cleanup(func() { _ = c.Stop() })

	require.NoError(t, c.Execute(ctx, `CREATE TABLE IF NOT EXISTS perf_test (name String, value UInt64) ENGINE = Memory`))

	var (
		names  proto.ColStr
		values proto.ColUInt64
	)

	names.Append("total")
	values.Append(42)

	require.NoError(t, c.Insert(ctx, "perf_test", proto.Input{
		{Name: "name", Data: &names},
		{Name: "value", Data: &values},
	}))
}
