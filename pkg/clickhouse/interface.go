package clickhouse

import (
	"context"

	"github.com/ClickHouse/ch-go/proto"
)

// ClientInterface is the subset of ClickHouse operations used for telemetry export.
type ClientInterface interface {
	// Execute runs a statement without results.
	Execute(ctx context.Context, query string) error
	// Insert writes the columns of input into table.
	Insert(ctx context.Context, table string, input proto.Input) error
	Start(ctx context.Context) error
	Stop() error
}
