package runlog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	queries []string
	args    [][]any
	failOn  string
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.failOn != "" && query == f.failOn {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestEnsureSchemaCreatesBothTables(t *testing.T) {
	fake := &fakeExecer{}
	s := &Store{db: fake}

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Len(t, fake.queries, 2)
}

func TestStartRunRecordEpochFinishRunPassExpectedArgs(t *testing.T) {
	fake := &fakeExecer{}
	s := &Store{db: fake}
	ctx := context.Background()

	require.NoError(t, s.StartRun(ctx, "run-1"))
	require.NoError(t, s.RecordEpoch(ctx, "run-1", 3, 0.5, 0.9))
	require.NoError(t, s.FinishRun(ctx, "run-1", "Completed"))

	require.Len(t, fake.args, 3)
	assert.Equal(t, []any{"run-1"}, fake.args[0])
	assert.Equal(t, []any{"run-1", 3, float32(0.5), float32(0.9)}, fake.args[1])
	assert.Equal(t, []any{"Completed", "run-1"}, fake.args[2])
}

func TestStoreMethodsReturnWrappedErrorOnFailure(t *testing.T) {
	fake := &fakeExecer{failOn: `INSERT INTO runs (id) VALUES ($1)`}
	s := &Store{db: fake}

	err := s.StartRun(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestNilStoreMethodsAreNoOps(t *testing.T) {
	var s *Store
	ctx := context.Background()
	assert.NoError(t, s.EnsureSchema(ctx))
	assert.NoError(t, s.StartRun(ctx, "run-1"))
	assert.NoError(t, s.RecordEpoch(ctx, "run-1", 0, 0, 0))
	assert.NoError(t, s.FinishRun(ctx, "run-1", "Completed"))
	assert.NoError(t, s.Close())
}

func TestRecorderOnEpochRecordsAgainstFixedRunID(t *testing.T) {
	fake := &fakeExecer{}
	s := &Store{db: fake}
	r := NewRecorder(context.Background(), s, "run-1")

	r.OnEpoch(2, 0.1, 0.8)

	require.Len(t, fake.args, 1)
	assert.Equal(t, []any{"run-1", 2, float32(0.1), float32(0.8)}, fake.args[0])
}
