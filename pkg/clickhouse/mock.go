package clickhouse

import (
	"context"
	"sync"

	"github.com/ClickHouse/ch-go/proto"
)

// MockClient records calls. Intended for tests.
type MockClient struct {
	ExecuteFunc func(ctx context.Context, query string) error
	InsertFunc  func(ctx context.Context, table string, input proto.Input) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded call.
type MockCall struct {
	Method string
	Table  string
	Query  string
	Rows   int
}

var _ ClientInterface = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(c MockCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *MockClient) Execute(ctx context.Context, query string) error {
	m.record(MockCall{Method: "Execute", Query: query})

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query)
	}

	return nil
}

func (m *MockClient) Insert(ctx context.Context, table string, input proto.Input) error {
	rows := 0
	if len(input) > 0 {
		rows = input[0].Data.Rows()
	}

	m.record(MockCall{Method: "Insert", Table: table, Rows: rows})

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, table, input)
	}

	return nil
}

func (m *MockClient) Start(context.Context) error {
	m.record(MockCall{Method: "Start"})

	return nil
}

func (m *MockClient) Stop() error {
	m.record(MockCall{Method: "Stop"})

	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)

	return out
}

// CallCount returns how often method was called.
func (m *MockClient) CallCount(method string) int {
	n := 0

	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}

	return n
}
