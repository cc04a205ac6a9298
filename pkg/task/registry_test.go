package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTask struct {
	desc Descriptor
}

func (s stubTask) Descriptor() Descriptor { return s.desc }

func (s stubTask) ShouldRun(*BlockInfo, Config) Prerun { return Run() }

func (s stubTask) Execute(context.Context, *Context) (Result, error) { return nil, nil }

func stub(name string, era Era) Task {
	return stubTask{desc: Descriptor{Name: name, Era: era}}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	r.MustRegister(
		stub("BlockTask", EraByron),
		stub("BlockTask", EraMultiEra),
		stub("TxTask", EraMultiEra),
	)

	found, ok := r.Find(EraMultiEra, "TxTask")
	require.True(t, ok)
	assert.Equal(t, "TxTask", found.Descriptor().Name)

	_, ok = r.Find(EraByron, "TxTask")
	assert.False(t, ok)

	assert.Equal(t, []Era{EraByron, EraMultiEra}, r.Eras("BlockTask"))
	assert.True(t, r.Known("TxTask"))
	assert.False(t, r.Known("Nope"))

	tasks := r.Tasks(EraMultiEra)
	require.Len(t, tasks, 2)
	assert.Equal(t, "BlockTask", tasks[0].Descriptor().Name)
	assert.Equal(t, "TxTask", tasks[1].Descriptor().Name)
}

func TestRegistryRejects(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *Registry)
		task    Task
		wantErr error
	}{
		{
			name:    "duplicate in era",
			prepare: func(r *Registry) { r.MustRegister(stub("A", EraByron)) },
			task:    stub("A", EraByron),
			wantErr: ErrDuplicateTask,
		},
		{
			name:    "sealed",
			prepare: func(r *Registry) { r.Seal() },
			task:    stub("A", EraByron),
			wantErr: ErrRegistrySealed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.prepare(r)

			err := r.Register(tt.task)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistryRequiresName(t *testing.T) {
	assert.Error(t, NewRegistry().Register(stub("", EraGenesis)))
}

func TestConfig(t *testing.T) {
	cfg := Config{"readonly": "true", "include_payload": true, "depth": 3}

	assert.True(t, cfg.Readonly())
	assert.True(t, cfg.IncludePayload())
	assert.Equal(t, "3", cfg.String("depth"))
	assert.Equal(t, "", cfg.String("missing"))

	ro := Config{}.With(KeyReadonly, true)
	assert.True(t, ro.Readonly())

	assert.False(t, Config(nil).Readonly())
}

func TestParseEra(t *testing.T) {
	for _, era := range Eras() {
		parsed, err := ParseEra(era.String())
		require.NoError(t, err)
		assert.Equal(t, era, parsed)
	}

	_, err := ParseEra("goguen")
	assert.Error(t, err)
}

func TestPrerun(t *testing.T) {
	assert.False(t, Skip().ShouldRun())
	assert.True(t, Run().ShouldRun())
	assert.True(t, When(true).ShouldRun())
	assert.False(t, When(false).ShouldRun())

	p := RunWith(5)
	assert.True(t, p.ShouldRun())

	n, ok := PrerunData[int](&Context{Prerun: p.Data()})
	assert.True(t, ok)
	assert.Equal(t, 5, n)
}
