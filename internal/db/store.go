package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/model"
)

const taskColumns = "id, title, content, status, priority, created_at, updated_at, due_at, parent_id, order_in_parent"

// canonicalOrder is used everywhere tasks are listed.
const canonicalOrder = "ORDER BY parent_id, order_in_parent, created_at, id"

const siblingOrder = "ORDER BY order_in_parent, created_at, id"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	DB     *sql.DB
	Logger *log.Logger

	now func() time.Time

	// notifyMu orders snapshot reads with their delivery, so the last list
	// an observer receives was read after the last commit.
	notifyMu sync.Mutex
	mu       sync.Mutex
	watchers map[int]chan []model.Task
	nextID   int
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		DB:       db,
		Logger:   log.StandardLogger(),
		now:      time.Now,
		watchers: make(map[int]chan []model.Task),
	}
}

// Observe delivers the current task list and then a fresh list after every
// committed mutation. A slow reader only ever receives the newest list.
func (s *Store) Observe(ctx context.Context) (<-chan []model.Task, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	initial, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []model.Task, 1)
	ch <- initial

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *Store) notify(ctx context.Context) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	count := len(s.watchers)
	s.mu.Unlock()
	if count == 0 {
		return
	}

	tasks, err := s.ListAll(ctx)
	if err != nil {
		s.Logger.WithError(err).Warn("reload tasks for observers")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- tasks
	}
}

// mutate runs fn in a transaction that is not interrupted by ctx
// cancellation once started, and notifies observers after commit.
func (s *Store) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return wrapErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}

	s.notify(ctx)
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Task, error) {
	tasks, err := queryTasks(ctx, s.DB, "SELECT "+taskColumns+" FROM tasks "+canonicalOrder)
	if err != nil {
		return nil, wrapErr("list tasks", err)
	}
	return tasks, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (model.Task, bool, error) {
	task, ok, err := getTask(ctx, s.DB, id)
	if err != nil {
		return model.Task{}, false, wrapErr("get task", err)
	}
	return task, ok, nil
}

// GetChildren lists the sibling group under parentID; nil selects root tasks.
func (s *Store) GetChildren(ctx context.Context, parentID *int64) ([]model.Task, error) {
	tasks, err := children(ctx, s.DB, parentID)
	if err != nil {
		return nil, wrapErr("get children", err)
	}
	return tasks, nil
}

func (s *Store) GetMaxOrderInParent(ctx context.Context, parentID *int64) (*int, error) {
	value, err := maxOrder(ctx, s.DB, parentID)
	if err != nil {
		return nil, wrapErr("max order", err)
	}
	return value, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT count(*) FROM tasks").Scan(&count); err != nil {
		return 0, wrapErr("count tasks", err)
	}
	return count, nil
}

// Insert stores task as given, keeping its OrderInParent. A zero ID is
// replaced by a generated one.
func (s *Store) Insert(ctx context.Context, task model.Task) (int64, error) {
	if err := validateTask(task); err != nil {
		return 0, err
	}
	var id int64
	err := s.mutate(ctx, "insert task", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		id, err = insertTask(ctx, tx, task, s.now())
		return err
	})
	return id, err
}

// InsertBatch stores all tasks in one transaction.
func (s *Store) InsertBatch(ctx context.Context, tasks []model.Task) (int, error) {
	for _, task := range tasks {
		if err := validateTask(task); err != nil {
			return 0, err
		}
	}
	err := s.mutate(ctx, "insert batch", func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		for _, task := range tasks {
			if _, err := insertTask(ctx, tx, task, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// Update replaces the whole row. Zero rows affected means the id is unknown.
func (s *Store) Update(ctx context.Context, task model.Task) (int64, error) {
	if err := validateTask(task); err != nil {
		return 0, err
	}
	var affected int64
	err := s.mutate(ctx, "update task", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		affected, err = updateTask(ctx, tx, task)
		return err
	})
	return affected, err
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.Status, updatedAt *time.Time) (int64, error) {
	var affected int64
	err := s.mutate(ctx, "update status", func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", string(status), nullTime(updatedAt), id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

func (s *Store) DeleteByID(ctx context.Context, id int64) (int64, error) {
	var affected int64
	err := s.mutate(ctx, "delete task", func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get meta", err)
	}
	return value, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return wrapErr("set meta", err)
}

func validateTask(task model.Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return fmt.Errorf("title is required: %w", ErrConstraintViolation)
	}
	if task.OrderInParent < 0 {
		return fmt.Errorf("order_in_parent must not be negative: %w", ErrConstraintViolation)
	}
	return nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]model.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		row, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, row.toDomain())
	}
	return tasks, rows.Err()
}

func getTask(ctx context.Context, q querier, id int64) (model.Task, bool, error) {
	row, err := scanTask(q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, err
	}
	return row.toDomain(), true, nil
}

// parent_id IS ? matches NULL when the argument is nil, unlike "= NULL".
func children(ctx context.Context, q querier, parentID *int64) ([]model.Task, error) {
	return queryTasks(ctx, q, "SELECT "+taskColumns+" FROM tasks WHERE parent_id IS ? "+siblingOrder, nullID(parentID))
}

func maxOrder(ctx context.Context, q querier, parentID *int64) (*int, error) {
	var value sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(order_in_parent) FROM tasks WHERE parent_id IS ?", nullID(parentID)).Scan(&value); err != nil {
		return nil, err
	}
	if !value.Valid {
		return nil, nil
	}
	result := int(value.Int64)
	return &result, nil
}

// nextTaskID derives ids from the clock, stepping past the current maximum.
func nextTaskID(ctx context.Context, q querier, now time.Time) (int64, error) {
	var current int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM tasks").Scan(&current); err != nil {
		return 0, err
	}
	id := now.UnixMilli()
	if id <= current {
		id = current + 1
	}
	return id, nil
}

func insertTask(ctx context.Context, q querier, task model.Task, now time.Time) (int64, error) {
	if task.ID == 0 {
		id, err := nextTaskID(ctx, q, now)
		if err != nil {
			return 0, err
		}
		task.ID = id
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	row := toEntity(task)
	_, err := q.ExecContext(ctx,
		"INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		row.ID, row.Title, row.Content, row.Status, row.Priority, row.CreatedAt, row.UpdatedAt, row.DueAt, row.ParentID, row.OrderInParent,
	)
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

func updateTask(ctx context.Context, q querier, task model.Task) (int64, error) {
	row := toEntity(task)
	result, err := q.ExecContext(ctx,
		`UPDATE tasks SET title = ?, content = ?, status = ?, priority = ?, created_at = ?, updated_at = ?,
		due_at = ?, parent_id = ?, order_in_parent = ? WHERE id = ?`,
		row.Title, row.Content, row.Status, row.Priority, row.CreatedAt, row.UpdatedAt, row.DueAt, row.ParentID, row.OrderInParent, row.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
