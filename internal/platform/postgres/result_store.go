package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phrazzld/agent-infra/internal/store"
	"github.com/phrazzld/agent-infra/internal/task"
)

// resultEntity names task results in store errors.
const resultEntity = "task_result"

// ResultStore is a task.ResultBackend over the task_results table.
// Expired rows are hidden from Get and removed by PurgeExpired.
type ResultStore struct {
	db  store.DBTX
	now func() time.Time
}

var (
	_ task.ResultBackend = (*ResultStore)(nil)
	_ task.Purger        = (*ResultStore)(nil)
)

// NewResultStore creates a ResultStore on db.
func NewResultStore(db store.DBTX) *ResultStore {
	return &ResultStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Store upserts result.
func (s *ResultStore) Store(ctx context.Context, result *task.Result, ttl time.Duration) error {
	const query = `
		INSERT INTO task_results (task_id, task_name, status, result, error, retries, date_done, expires_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			task_name  = EXCLUDED.task_name,
			status     = EXCLUDED.status,
			result     = EXCLUDED.result,
			error      = EXCLUDED.error,
			retries    = EXCLUDED.retries,
			date_done  = EXCLUDED.date_done,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	now := s.now()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		result.TaskID,
		result.Task,
		string(result.State),
		nullJSON(result.Result),
		nullString(result.Error),
		result.Retries,
		result.DateDone,
		expiresAt,
		now,
	)
	if err != nil {
		msg := "failed to store result for task " + result.TaskID
		if IsCheckConstraintViolation(err) {
			msg = fmt.Sprintf("invalid state %q for task %s", result.State, result.TaskID)
		}
		return store.NewStoreError(resultEntity, "store", msg, MapError(err))
	}
	return nil
}

// Get loads an unexpired result.
func (s *ResultStore) Get(ctx context.Context, id string) (*task.Result, error) {
	const query = `
		SELECT task_id, task_name, status, result, error, retries, date_done
		FROM task_results
		WHERE task_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`

	var (
		r        task.Result
		status   string
		payload  sql.NullString
		errText  sql.NullString
		dateDone sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id, s.now()).Scan(
		&r.TaskID, &r.Task, &status, &payload, &errText, &r.Retries, &dateDone,
	)
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, task.ErrResultNotFound
		}
		return nil, store.NewStoreError(resultEntity, "get", "failed to load result for task "+id, mapped)
	}

	r.State = task.State(status)
	if payload.Valid {
		r.Result = []byte(payload.String)
	}
	r.Error = errText.String
	if dateDone.Valid {
		t := dateDone.Time.UTC()
		r.DateDone = &t
	}
	return &r, nil
}

// PurgeExpired deletes expired results and returns how many were removed.
func (s *ResultStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_results WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, store.NewStoreError(resultEntity, "purge", "failed to purge expired results", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError(resultEntity, "purge", "failed to count purged results", err)
	}
	return n, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
