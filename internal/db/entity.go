package db

import (
	"database/sql"
	"time"

	"github.com/Joseda-hg/taskchat/internal/model"
)

// taskRow is the storage representation of a task. Timestamps are unix
// nanoseconds in UTC.
type taskRow struct {
	ID            int64
	Title         string
	Content       string
	Status        string
	Priority      string
	CreatedAt     int64
	UpdatedAt     sql.NullInt64
	DueAt         sql.NullInt64
	ParentID      sql.NullInt64
	OrderInParent int64
}

func scanTask(row interface{ Scan(...any) error }) (taskRow, error) {
	var r taskRow
	err := row.Scan(&r.ID, &r.Title, &r.Content, &r.Status, &r.Priority, &r.CreatedAt, &r.UpdatedAt, &r.DueAt, &r.ParentID, &r.OrderInParent)
	return r, err
}

func toEntity(task model.Task) taskRow {
	priority := task.Priority
	if priority == "" {
		priority = model.PriorityDefault
	}
	status := task.Status
	if status == "" {
		status = model.StatusOpen
	}
	return taskRow{
		ID:            task.ID,
		Title:         task.Title,
		Content:       task.Content,
		Status:        string(status),
		Priority:      string(priority),
		CreatedAt:     task.CreatedAt.UnixNano(),
		UpdatedAt:     nullTime(task.UpdatedAt),
		DueAt:         nullTime(task.DueAt),
		ParentID:      nullID(task.ParentID),
		OrderInParent: int64(task.OrderInParent),
	}
}

func (r taskRow) toDomain() model.Task {
	task := model.Task{
		ID:            r.ID,
		Title:         r.Title,
		Content:       r.Content,
		Status:        model.ParseStatus(r.Status),
		Priority:      model.ParsePriority(r.Priority),
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
		OrderInParent: int(r.OrderInParent),
	}
	if r.UpdatedAt.Valid {
		updatedAt := time.Unix(0, r.UpdatedAt.Int64).UTC()
		task.UpdatedAt = &updatedAt
	}
	if r.DueAt.Valid {
		dueAt := time.Unix(0, r.DueAt.Int64).UTC()
		task.DueAt = &dueAt
	}
	if r.ParentID.Valid {
		parentID := r.ParentID.Int64
		task.ParentID = &parentID
	}
	return task
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func nullTime(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UnixNano(), Valid: true}
}
