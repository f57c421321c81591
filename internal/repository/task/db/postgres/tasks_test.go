package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"image-pipeline/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
)

// step is one scripted statement. The statement text must contain match.
type step struct {
	match    string
	affected int64
	rows     [][]driver.Value
	err      error
}

type call struct {
	query string
	args  []driver.NamedValue
}

// script is a database/sql driver that answers statements from a fixed
// list, in order, and records what it was asked.
type script struct {
	t *testing.T

	mu        sync.Mutex
	steps     []step
	calls     []call
	commits   int
	rollbacks int
}

func newRepo(t *testing.T, steps ...step) (*TasksRepository, *script) {
	t.Helper()
	s := &script{t: t, steps: steps}
	db := sql.OpenDB(s)
	t.Cleanup(func() { db.Close() })

	repo := NewTasksRepository(&dbpg.DB{Master: db}, retry.Strategy{Attempts: 1})
	return repo, s
}

func (s *script) next(query string, args []driver.NamedValue) (step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call{query: query, args: args})
	if len(s.steps) == 0 {
		return step{}, fmt.Errorf("unexpected statement: %s", query)
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if !strings.Contains(query, st.match) {
		return step{}, fmt.Errorf("statement %q does not contain %q", query, st.match)
	}
	return st, nil
}

func (s *script) done() {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(s.t, s.steps, "unused scripted statements")
}

func (s *script) Connect(context.Context) (driver.Conn, error) { return &scriptConn{s: s}, nil }

func (s *script) Open(string) (driver.Conn, error) { return &scriptConn{s: s}, nil }

func (s *script) Driver() driver.Driver { return s }

type scriptConn struct {
	s *script
}

func (c *scriptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) Begin() (driver.Tx, error) { return &scriptTx{s: c.s}, nil }

func (c *scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	st, err := c.s.next(query, args)
	if err != nil {
		return nil, err
	}
	if st.err != nil {
		return nil, st.err
	}
	return driver.RowsAffected(st.affected), nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, err := c.s.next(query, args)
	if err != nil {
		return nil, err
	}
	if st.err != nil {
		return nil, st.err
	}
	return &scriptRows{rows: st.rows}, nil
}

type scriptTx struct {
	s *script
}

func (tx *scriptTx) Commit() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.commits++
	return nil
}

func (tx *scriptTx) Rollback() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.rollbacks++
	return nil
}

type scriptRows struct {
	rows [][]driver.Value
}

func (r *scriptRows) Columns() []string {
	if len(r.rows) == 0 {
		return []string{"state"}
	}
	cols := make([]string, len(r.rows[0]))
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	return cols
}

func (r *scriptRows) Close() error { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

const taskID = "6f1c2a8e-3b7d-4c19-9a51-2d0e8f4b7c30"

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("applies transition", func(t *testing.T) {
		repo, s := newRepo(t, step{match: "UPDATE processing_tasks", affected: 1})

		require.NoError(t, repo.UpdateStatus(ctx, taskID, domain.StateProcessing, ""))
		s.done()

		args := s.calls[0].args
		require.Len(t, args, 5)
		assert.Equal(t, "processing", args[0].Value)
		assert.Equal(t, taskID, args[3].Value)
		assert.Contains(t, args[4].Value, "pending")
	})

	t.Run("reports current state on conflict", func(t *testing.T) {
		repo, s := newRepo(t,
			step{match: "UPDATE processing_tasks", affected: 0},
			step{match: "SELECT state FROM processing_tasks", rows: [][]driver.Value{{"completed"}}},
		)

		err := repo.UpdateStatus(ctx, taskID, domain.StateFailed, "boom")
		s.done()

		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, domain.StateCompleted, conflict.From)
		assert.Equal(t, domain.StateFailed, conflict.To)
	})

	t.Run("missing task", func(t *testing.T) {
		repo, s := newRepo(t,
			step{match: "UPDATE processing_tasks", affected: 0},
			step{match: "SELECT state FROM processing_tasks"},
		)

		err := repo.UpdateStatus(ctx, taskID, domain.StateCancelled, "")
		s.done()
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		repo, s := newRepo(t, step{match: "UPDATE processing_tasks", err: errors.New("connection reset")})

		err := repo.UpdateStatus(ctx, taskID, domain.StateProcessing, "")
		s.done()
		assert.ErrorContains(t, err, "connection reset")
		assert.False(t, domain.IsConflict(err))
	})
}

func testResult() *domain.ProcessingResult {
	return &domain.ProcessingResult{
		ID:         "res-1",
		TaskID:     taskID,
		ImageID:    "img1",
		UserID:     "alice",
		OutputPath: "processed/img1/" + taskID + ".png",
		Format:     domain.FormatPNG,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("commits result and usage together", func(t *testing.T) {
		repo, s := newRepo(t,
			step{match: "SET state = 'completed'", affected: 1},
			step{match: "INSERT INTO processing_results", affected: 1},
			step{match: "INSERT INTO user_usage", affected: 1},
		)

		require.NoError(t, repo.Complete(ctx, testResult()))
		s.done()
		assert.Equal(t, 1, s.commits)
		assert.Zero(t, s.rollbacks)
		assert.Equal(t, "alice", s.calls[2].args[0].Value)
	})

	t.Run("task left processing", func(t *testing.T) {
		repo, s := newRepo(t,
			step{match: "SET state = 'completed'", affected: 0},
			step{match: "SELECT state FROM processing_tasks", rows: [][]driver.Value{{"cancelled"}}},
		)

		err := repo.Complete(ctx, testResult())
		s.done()

		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, domain.StateCancelled, conflict.From)
		assert.Equal(t, domain.StateCompleted, conflict.To)
		assert.Zero(t, s.commits)
		assert.Equal(t, 1, s.rollbacks)
	})

	t.Run("result insert fails", func(t *testing.T) {
		repo, s := newRepo(t,
			step{match: "SET state = 'completed'", affected: 1},
			step{match: "INSERT INTO processing_results", err: errors.New("disk full")},
		)

		err := repo.Complete(ctx, testResult())
		s.done()

		var serr *domain.StorageError
		require.ErrorAs(t, err, &serr)
		assert.Zero(t, s.commits)
		assert.Equal(t, 1, s.rollbacks)
	})
}
