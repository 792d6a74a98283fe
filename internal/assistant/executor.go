package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
)

const tracerName = "github.com/Joseda-hg/taskchat/internal/assistant"

// TaskStore is the subset of db.Store the executor writes through. Manual
// edits use the same methods.
type TaskStore interface {
	GetByID(ctx context.Context, id int64) (model.Task, bool, error)
	AppendTask(ctx context.Context, task model.Task) (model.Task, error)
	Edit(ctx context.Context, taskID int64, edit db.TaskEdit) error
	UpdateStatus(ctx context.Context, id int64, status model.Status, updatedAt *time.Time) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
}

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeSkippedNotFound Outcome = "skipped_not_found"
	OutcomeSkippedInvalid  Outcome = "skipped_invalid"
	OutcomeFailed          Outcome = "failed"
)

type Result struct {
	Kind    string  `json:"kind"`
	TaskID  int64   `json:"task_id,omitempty"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

type Executor struct {
	Store    TaskStore
	Logger   *log.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
	Location *time.Location
}

func NewExecutor(store TaskStore, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Executor{
		Store:    store,
		Logger:   logger,
		Tracer:   otel.Tracer(tracerName),
		Now:      time.Now,
		Location: time.Local,
	}
}

// Execute applies actions in order. A failing action is recorded in its
// Result and never stops the rest of the batch.
func (e *Executor) Execute(ctx context.Context, actions []Action) []Result {
	ctx, span := e.Tracer.Start(ctx, "assistant.execute", trace.WithAttributes(attribute.Int("actions.count", len(actions))))
	defer span.End()

	results := make([]Result, 0, len(actions))
	applied := 0
	for _, action := range actions {
		result := e.apply(ctx, action)
		results = append(results, result)

		attrs := []attribute.KeyValue{
			attribute.String("action.kind", result.Kind),
			attribute.String("action.outcome", string(result.Outcome)),
			attribute.Int64("task.id", result.TaskID),
		}
		span.AddEvent("action", trace.WithAttributes(attrs...))

		switch result.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeFailed:
			span.RecordError(result.Err)
		}
	}

	span.SetAttributes(attribute.Int("actions.applied", applied))
	if applied < len(actions) {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d actions not applied", len(actions)-applied, len(actions)))
	}
	return results
}

func (e *Executor) apply(ctx context.Context, action Action) Result {
	switch a := action.(type) {
	case AddTask:
		return e.addTask(ctx, a)
	case DeleteTask:
		return e.deleteTask(ctx, a)
	case UpdateTask:
		return e.updateTask(ctx, a)
	case CompleteTask:
		return e.completeTask(ctx, a)
	}
	return Result{Kind: fmt.Sprintf("%T", action), Outcome: OutcomeSkippedInvalid, Err: fmt.Errorf("unsupported action %T", action)}
}

func (e *Executor) addTask(ctx context.Context, a AddTask) Result {
	result := Result{Kind: a.Kind()}
	title := strings.TrimSpace(a.Title)
	if title == "" {
		return e.skip(result, OutcomeSkippedInvalid, fmt.Errorf("title is required: %w", db.ErrConstraintViolation))
	}

	now := e.Now()
	task := model.Task{
		Title:     title,
		Status:    model.StatusOpen,
		Priority:  model.PriorityDefault,
		CreatedAt: now,
		UpdatedAt: &now,
	}
	if notes, ok := a.Notes.Get(); ok {
		task.Content = notes
	}
	if priority, ok := a.Priority.Get(); ok {
		task.Priority = model.ParsePriority(priority)
	}
	if due, ok := a.DueAtISO.Get(); ok {
		task.DueAt = e.parseDue(due)
	}
	if parentID, ok := a.ParentID.Get(); ok {
		_, exists, err := e.Store.GetByID(ctx, parentID)
		if err != nil {
			return e.fail(result, err)
		}
		if exists {
			task.ParentID = &parentID
		} else {
			e.Logger.WithField("parent_id", parentID).Warn("assistant referenced unknown parent, adding at root")
		}
	}

	created, err := e.Store.AppendTask(ctx, task)
	if err != nil {
		return e.fail(result, err)
	}
	result.TaskID = created.ID
	result.Outcome = OutcomeApplied
	return result
}

func (e *Executor) deleteTask(ctx context.Context, a DeleteTask) Result {
	result := Result{Kind: a.Kind(), TaskID: a.ID}
	rows, err := e.Store.DeleteByID(ctx, a.ID)
	if err != nil {
		return e.fail(result, err)
	}
	if rows == 0 {
		return e.skip(result, OutcomeSkippedNotFound, fmt.Errorf("task %d: %w", a.ID, db.ErrNotFound))
	}
	result.Outcome = OutcomeApplied
	return result
}

func (e *Executor) completeTask(ctx context.Context, a CompleteTask) Result {
	result := Result{Kind: a.Kind(), TaskID: a.ID}
	_, ok, err := e.Store.GetByID(ctx, a.ID)
	if err != nil {
		return e.fail(result, err)
	}
	if !ok {
		return e.skip(result, OutcomeSkippedNotFound, fmt.Errorf("task %d: %w", a.ID, db.ErrNotFound))
	}
	now := e.Now()
	if _, err := e.Store.UpdateStatus(ctx, a.ID, model.StatusDone, &now); err != nil {
		return e.fail(result, err)
	}
	result.Outcome = OutcomeApplied
	return result
}

// updateTask applies the present fields and any parent or position change
// as one store edit, so concurrent edits to the same task are not lost and a
// rejected move leaves the fields untouched.
func (e *Executor) updateTask(ctx context.Context, a UpdateTask) Result {
	result := Result{Kind: a.Kind(), TaskID: a.ID}

	title, hasTitle := a.Title.Get()
	title = strings.TrimSpace(title)
	if a.Title.Set && title == "" {
		e.Logger.WithField("task_id", a.ID).Warn("ignoring empty title in assistant update")
		hasTitle = false
	}
	var due *time.Time
	clearDue := false
	if a.DueAtISO.Set {
		if value, ok := a.DueAtISO.Get(); ok {
			due = e.parseDue(value)
		} else {
			clearDue = true
		}
	}

	now := e.Now()
	edit := db.TaskEdit{
		Fields: func(task *model.Task) bool {
			changed := false
			if hasTitle {
				task.Title = title
				changed = true
			}
			if a.Notes.Set {
				task.Content, _ = a.Notes.Get()
				changed = true
			}
			if due != nil {
				task.DueAt = due
				changed = true
			} else if clearDue {
				task.DueAt = nil
				changed = true
			}
			if a.Priority.Set {
				priority, _ := a.Priority.Get()
				task.Priority = model.ParsePriority(priority)
				changed = true
			}
			if changed {
				task.UpdatedAt = &now
			}
			return changed
		},
	}
	if order, ok := a.OrderInParent.Get(); ok {
		edit.Index = &order
	}
	if a.ParentID.Set {
		edit.Reparent = true
		if parentID, ok := a.ParentID.Get(); ok {
			edit.ParentID = &parentID
		}
	}

	if err := e.Store.Edit(ctx, a.ID, edit); err != nil {
		return e.fail(result, err)
	}
	result.Outcome = OutcomeApplied
	return result
}

var dueLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDue accepts ISO-8601 timestamps and plain dates. Values without a
// zone are read in the executor's location.
func (e *Executor) parseDue(value string) *time.Time {
	value = strings.TrimSpace(value)
	location := e.Location
	if location == nil {
		location = time.Local
	}
	for _, layout := range dueLayouts {
		if parsed, err := time.ParseInLocation(layout, value, location); err == nil {
			return &parsed
		}
	}
	e.Logger.WithField("due", value).Warn("ignoring unparsable due date")
	return nil
}

func (e *Executor) skip(result Result, outcome Outcome, err error) Result {
	e.Logger.WithFields(log.Fields{"kind": result.Kind, "task_id": result.TaskID}).WithError(err).Warn("skipping assistant action")
	result.Outcome = outcome
	result.Err = err
	return result
}

func (e *Executor) fail(result Result, err error) Result {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return e.skip(result, OutcomeSkippedNotFound, err)
	case errors.Is(err, db.ErrCycle), errors.Is(err, db.ErrConstraintViolation):
		return e.skip(result, OutcomeSkippedInvalid, err)
	}
	e.Logger.WithFields(log.Fields{"kind": result.Kind, "task_id": result.TaskID}).WithError(err).Error("assistant action failed")
	result.Outcome = OutcomeFailed
	result.Err = err
	return result
}

// Summarize describes applied results for replies that carry no text.
func Summarize(results []Result) string {
	counts := map[string]int{}
	skipped := 0
	for _, result := range results {
		if result.Outcome == OutcomeApplied {
			counts[result.Kind]++
		} else {
			skipped++
		}
	}

	var parts []string
	for _, kind := range []string{KindAddTask, KindUpdateTask, KindCompleteTask, KindDeleteTask} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", verbs[kind], plural(n)))
		}
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped %d", skipped))
	}
	if len(parts) == 0 {
		return "Nothing to change."
	}
	summary := strings.Join(parts, ", ")
	return strings.ToUpper(summary[:1]) + summary[1:] + "."
}

var verbs = map[string]string{
	KindAddTask:      "added",
	KindUpdateTask:   "updated",
	KindCompleteTask: "completed",
	KindDeleteTask:   "deleted",
}

func plural(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}
