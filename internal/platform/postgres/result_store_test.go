package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/agent-infra/internal/platform/postgres"
	"github.com/phrazzld/agent-infra/internal/store"
	"github.com/phrazzld/agent-infra/internal/task"
)

// failingDB is a store.DBTX whose statements fail with err.
type failingDB struct {
	err error
}

func (f failingDB) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, f.err
}

func (f failingDB) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, f.err
}

func (f failingDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, f.err
}

func (f failingDB) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

// countingResult reports a fixed RowsAffected outcome.
type countingResult struct {
	n   int64
	err error
}

func (r countingResult) LastInsertId() (int64, error) { return 0, nil }
func (r countingResult) RowsAffected() (int64, error) { return r.n, r.err }

type execDB struct {
	failingDB
	result sql.Result
}

func (d execDB) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return d.result, nil
}

func TestResultStore_StoreErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{"check violation", newPgError("23514"), store.ErrInvalidEntity, `invalid state "BOGUS" for task t-1`},
		{"connection lost", newPgError("08006"), store.ErrUnavailable, "failed to store result for task t-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := postgres.NewResultStore(failingDB{err: tt.err})

			err := rs.Store(context.Background(), &task.Result{TaskID: "t-1", State: "BOGUS"}, time.Hour)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			var storeErr *store.StoreError
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, "task_result", storeErr.Entity)
			assert.Equal(t, "store", storeErr.Operation)
			assert.Equal(t, tt.message, storeErr.Message)
		})
	}
}

func TestResultStore_PurgeExpired(t *testing.T) {
	n, err := postgres.NewResultStore(execDB{result: countingResult{n: 3}}).PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = postgres.NewResultStore(failingDB{err: newPgError("08006")}).PurgeExpired(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
	var storeErr *store.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "purge", storeErr.Operation)

	_, err = postgres.NewResultStore(execDB{result: countingResult{err: errors.New("driver")}}).PurgeExpired(context.Background())
	assert.ErrorContains(t, err, "failed to count purged results")
}
