package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yushao2/sre-agent/internal/core"
)

// postgresStore implements core.ResultStore on top of PostgreSQL. Claim and
// the other transitions use conditional UPDATEs as the compare-and-set, so
// concurrent workers racing on the same task resolve through row counts
// rather than locks held in the application.
type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a ResultStore backed by the given connection pool.
func NewPostgresStore(db *sqlx.DB) core.ResultStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) CreatePending(ctx context.Context, task *core.Task) (bool, error) {
	query := `
		INSERT INTO tasks (id, kind, payload, state, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, now(), now())
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, task.ID, task.Kind, []byte(task.Payload))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*core.Task, error) {
	query := `
		SELECT id, kind, payload, state, attempt, result, error_kind, error_message, created_at, updated_at
		FROM tasks
		WHERE id = $1`

	return s.scanTask(s.db.QueryRowContext(ctx, query, id))
}

func (s *postgresStore) Claim(ctx context.Context, id string, lease time.Duration) (*core.Task, bool, error) {
	returning := `RETURNING id, kind, payload, state, attempt, result, error_kind, error_message, created_at, updated_at`

	var row *sql.Row
	if lease > 0 {
		// A running record past its lease belongs to a dead worker and is
		// claimable again.
		query := `
			UPDATE tasks
			SET state = 'running', attempt = attempt + 1, updated_at = now()
			WHERE id = $1 AND (state = 'pending'
				OR (state = 'running' AND updated_at < now() - make_interval(secs => $2)))
			` + returning
		row = s.db.QueryRowContext(ctx, query, id, lease.Seconds())
	} else {
		query := `
			UPDATE tasks
			SET state = 'running', attempt = attempt + 1, updated_at = now()
			WHERE id = $1 AND state = 'pending'
			` + returning
		row = s.db.QueryRowContext(ctx, query, id)
	}

	task, err := s.scanTask(row)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Either the id is unknown or another worker holds the claim;
			// distinguish the two for the caller.
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return nil, false, getErr
			}
			return nil, false, nil
		}
		return nil, false, err
	}
	return task, true, nil
}

func (s *postgresStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	query := `
		UPDATE tasks
		SET state = 'completed', result = $2, error_kind = NULL, error_message = NULL, updated_at = now()
		WHERE id = $1 AND state = 'running'`

	return s.mustTransition(ctx, id, query, []byte(result))
}

func (s *postgresStore) Fail(ctx context.Context, id string, taskErr core.TaskError) error {
	query := `
		UPDATE tasks
		SET state = 'failed', result = NULL, error_kind = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND state = 'running'`

	return s.mustTransition(ctx, id, query, taskErr.Kind, taskErr.Message)
}

func (s *postgresStore) Release(ctx context.Context, id string) error {
	query := `
		UPDATE tasks
		SET state = 'pending', updated_at = now()
		WHERE id = $1 AND state = 'running'`

	return s.mustTransition(ctx, id, query)
}

func (s *postgresStore) ResetForRetry(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'pending', attempt = 0, error_kind = NULL, error_message = NULL, updated_at = now()
		WHERE id = $1 AND state = 'failed'`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (s *postgresStore) Counts(ctx context.Context) (int, int, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE state = 'pending'),
			count(*) FILTER (WHERE state = 'completed')
		FROM tasks`

	var pending, completed int
	if err := s.db.QueryRowContext(ctx, query).Scan(&pending, &completed); err != nil {
		return 0, 0, err
	}
	return pending, completed, nil
}

func (s *postgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM tasks WHERE state IN ('completed', 'failed') AND updated_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *postgresStore) mustTransition(ctx context.Context, id, query string, args ...any) error {
	allArgs := append([]any{id}, args...)
	res, err := s.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		task, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &invalidTransitionError{ID: id, From: task.State}
	}
	return nil
}

func (s *postgresStore) scanTask(row *sql.Row) (*core.Task, error) {
	var (
		t        core.Task
		payload  []byte
		result   sql.Null[[]byte]
		errKind  sql.NullString
		errMsg   sql.NullString
	)

	err := row.Scan(&t.ID, &t.Kind, &payload, &t.State, &t.Attempt, &result, &errKind, &errMsg, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	t.Payload = json.RawMessage(payload)
	if result.Valid {
		t.Result = json.RawMessage(result.V)
	}
	if errKind.Valid {
		t.Error = &core.TaskError{
			Kind:    core.FailureKind(errKind.String),
			Message: errMsg.String,
		}
	}
	return &t, nil
}
