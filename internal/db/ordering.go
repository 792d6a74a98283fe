package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Joseda-hg/taskchat/internal/model"
)

// AppendTask inserts task at the end of its sibling group. The next order is
// computed inside the insert transaction, so concurrent appends never share a
// position.
func (s *Store) AppendTask(ctx context.Context, task model.Task) (model.Task, error) {
	if err := validateTask(task); err != nil {
		return model.Task{}, err
	}
	err := s.mutate(ctx, "append task", func(ctx context.Context, tx *sql.Tx) error {
		current, err := maxOrder(ctx, tx, task.ParentID)
		if err != nil {
			return err
		}
		task.OrderInParent = 0
		if current != nil {
			task.OrderInParent = *current + 1
		}
		now := s.now()
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.ID, err = insertTask(ctx, tx, task, now)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// InsertBefore places task in targetID's sibling group at targetID's
// position, shifting the target and everything after it down by one.
func (s *Store) InsertBefore(ctx context.Context, task model.Task, targetID int64) (model.Task, error) {
	if err := validateTask(task); err != nil {
		return model.Task{}, err
	}
	err := s.mutate(ctx, "insert before", func(ctx context.Context, tx *sql.Tx) error {
		target, ok, err := getTask(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("target %d: %w", targetID, ErrNotFound)
		}
		now := s.now()
		if err := shiftSiblings(ctx, tx, target.ParentID, target.OrderInParent, 1, now); err != nil {
			return err
		}
		task.ParentID = target.ParentID
		task.OrderInParent = target.OrderInParent
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.ID, err = insertTask(ctx, tx, task, now)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// Reorder moves taskID to newOrder within its current sibling group.
func (s *Store) Reorder(ctx context.Context, taskID int64, newOrder int) error {
	return s.mutate(ctx, "reorder", func(ctx context.Context, tx *sql.Tx) error {
		task, ok, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return reorderWithin(ctx, tx, task, newOrder, s.now())
	})
}

// Move reparents taskID under newParentID (nil for root) at newIndex, or at
// the end of the new group when newIndex is nil. Moving within the same
// parent is a reorder; with a nil index it leaves the task in place.
func (s *Store) Move(ctx context.Context, taskID int64, newParentID *int64, newIndex *int) error {
	return s.mutate(ctx, "move", func(ctx context.Context, tx *sql.Tx) error {
		task, ok, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return moveTask(ctx, tx, task, newParentID, newIndex, s.now())
	})
}

// TaskEdit is a partial update applied by Edit. Fields receives the task as
// currently stored and reports whether it changed anything; only title,
// content, priority, due date and updated_at are written back from it.
type TaskEdit struct {
	Fields func(task *model.Task) bool

	// Reparent routes the task to ParentID through Move. Without it a
	// non-nil Index reorders within the current group.
	Reparent bool
	ParentID *int64
	Index    *int
}

// Edit reads, changes and repositions taskID in one transaction. A failed
// move rolls back the field changes too.
func (s *Store) Edit(ctx context.Context, taskID int64, edit TaskEdit) error {
	return s.mutate(ctx, "edit task", func(ctx context.Context, tx *sql.Tx) error {
		task, ok, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		now := s.now()

		if edit.Fields != nil {
			changed := task
			if edit.Fields(&changed) {
				if err := validateTask(changed); err != nil {
					return err
				}
				row := toEntity(changed)
				if _, err := tx.ExecContext(ctx,
					"UPDATE tasks SET title = ?, content = ?, priority = ?, due_at = ?, updated_at = ? WHERE id = ?",
					row.Title, row.Content, row.Priority, row.DueAt, row.UpdatedAt, taskID,
				); err != nil {
					return err
				}
			}
		}

		if edit.Reparent {
			return moveTask(ctx, tx, task, edit.ParentID, edit.Index, now)
		}
		if edit.Index != nil {
			return reorderWithin(ctx, tx, task, *edit.Index, now)
		}
		return nil
	})
}

func moveTask(ctx context.Context, tx *sql.Tx, task model.Task, newParentID *int64, newIndex *int, now time.Time) error {
	if model.SameParent(task.ParentID, newParentID) {
		if newIndex == nil {
			return nil
		}
		return reorderWithin(ctx, tx, task, *newIndex, now)
	}

	if newParentID != nil {
		if err := checkAncestry(ctx, tx, task.ID, *newParentID); err != nil {
			return err
		}
	}

	if err := shiftSiblings(ctx, tx, task.ParentID, task.OrderInParent+1, -1, now); err != nil {
		return err
	}

	siblings, err := children(ctx, tx, newParentID)
	if err != nil {
		return err
	}
	position := len(siblings)
	if newIndex != nil {
		position = clamp(*newIndex, 0, len(siblings))
	}

	order := 0
	if position < len(siblings) {
		order = siblings[position].OrderInParent
		if err := shiftSiblings(ctx, tx, newParentID, order, 1, now); err != nil {
			return err
		}
	} else if len(siblings) > 0 {
		order = siblings[len(siblings)-1].OrderInParent + 1
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE tasks SET parent_id = ?, order_in_parent = ?, updated_at = ? WHERE id = ?",
		nullID(newParentID), order, now.UnixNano(), task.ID,
	)
	return err
}

// Reindex renumbers a sibling group to 0..n-1 in its current order.
func (s *Store) Reindex(ctx context.Context, parentID *int64) error {
	return s.mutate(ctx, "reindex", func(ctx context.Context, tx *sql.Tx) error {
		siblings, err := children(ctx, tx, parentID)
		if err != nil {
			return err
		}
		return writeOrder(ctx, tx, siblings, s.now())
	})
}

func reorderWithin(ctx context.Context, tx *sql.Tx, task model.Task, newOrder int, now time.Time) error {
	siblings, err := children(ctx, tx, task.ParentID)
	if err != nil {
		return err
	}

	rest := make([]model.Task, 0, len(siblings))
	for _, sibling := range siblings {
		if sibling.ID != task.ID {
			rest = append(rest, sibling)
		}
	}

	position := clamp(newOrder, 0, len(rest))
	ordered := make([]model.Task, 0, len(siblings))
	ordered = append(ordered, rest[:position]...)
	ordered = append(ordered, task)
	ordered = append(ordered, rest[position:]...)

	return writeOrder(ctx, tx, ordered, now)
}

// writeOrder assigns each task its slice index, touching only rows whose
// stored order differs.
func writeOrder(ctx context.Context, tx *sql.Tx, ordered []model.Task, now time.Time) error {
	for index, task := range ordered {
		if task.OrderInParent == index {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET order_in_parent = ?, updated_at = ? WHERE id = ?",
			index, now.UnixNano(), task.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

func shiftSiblings(ctx context.Context, tx *sql.Tx, parentID *int64, from, delta int, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tasks SET order_in_parent = order_in_parent + ?, updated_at = ? WHERE parent_id IS ? AND order_in_parent >= ?",
		delta, now.UnixNano(), nullID(parentID), from,
	)
	return err
}

// checkAncestry rejects moving taskID under newParentID when newParentID is
// taskID itself or one of its descendants, and when newParentID is unknown.
func checkAncestry(ctx context.Context, tx *sql.Tx, taskID, newParentID int64) error {
	visited := map[int64]struct{}{}
	current := newParentID
	for {
		if current == taskID {
			return fmt.Errorf("move %d under %d: %w", taskID, newParentID, ErrCycle)
		}
		if _, seen := visited[current]; seen {
			return nil
		}
		visited[current] = struct{}{}

		ancestor, ok, err := getTask(ctx, tx, current)
		if err != nil {
			return err
		}
		if !ok {
			if current == newParentID {
				return fmt.Errorf("parent %d: %w", newParentID, ErrNotFound)
			}
			return nil
		}
		if ancestor.ParentID == nil {
			return nil
		}
		current = *ancestor.ParentID
	}
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
