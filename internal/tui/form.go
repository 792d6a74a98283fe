package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/model"
)

type formField struct {
	Label string
	Value string
}

const (
	fieldTitle = iota
	fieldNotes
	fieldDue
	fieldPriority
)

var priorityOrder = []model.Priority{model.PriorityDefault, model.PriorityLow, model.PriorityMedium, model.PriorityHigh}

func buildFormFields(task *model.Task) []formField {
	fields := []formField{
		{Label: "Title"},
		{Label: "Notes"},
		{Label: "Due (YYYY-MM-DD)"},
		{Label: "Priority (space/←→)"},
	}

	if task == nil {
		fields[fieldPriority].Value = string(model.PriorityDefault)
		return fields
	}

	fields[fieldTitle].Value = task.Title
	fields[fieldNotes].Value = task.Content
	fields[fieldPriority].Value = string(task.Priority)
	if task.DueAt != nil {
		fields[fieldDue].Value = task.DueAt.Local().Format("2006-01-02")
	}
	return fields
}

// formAction turns the form into an add or update action. On edit, cleared
// notes and due date become explicit nulls.
func formAction(form *formState) (assistant.Action, error) {
	title := strings.TrimSpace(form.fields[fieldTitle].Value)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	due := strings.TrimSpace(form.fields[fieldDue].Value)
	if due != "" {
		if _, err := time.Parse("2006-01-02", due); err != nil {
			return nil, fmt.Errorf("invalid due date")
		}
	}
	notes := strings.TrimSpace(form.fields[fieldNotes].Value)
	priority := string(model.ParsePriority(form.fields[fieldPriority].Value))

	if form.taskID == 0 {
		action := assistant.AddTask{Title: title, Priority: assistant.Some(priority)}
		if notes != "" {
			action.Notes = assistant.Some(notes)
		}
		if due != "" {
			action.DueAtISO = assistant.Some(due)
		}
		if form.parentID != nil {
			action.ParentID = assistant.Some(*form.parentID)
		}
		return action, nil
	}

	action := assistant.UpdateTask{
		ID:       form.taskID,
		Title:    assistant.Some(title),
		Priority: assistant.Some(priority),
		Notes:    assistant.Null[string](),
		DueAtISO: assistant.Null[string](),
	}
	if notes != "" {
		action.Notes = assistant.Some(notes)
	}
	if due != "" {
		action.DueAtISO = assistant.Some(due)
	}
	return action, nil
}

func isPriorityField(label string) bool {
	return strings.HasPrefix(label, "Priority")
}

func cyclePriority(current string, delta int) string {
	value := model.ParsePriority(current)
	index := 0
	for i, priority := range priorityOrder {
		if priority == value {
			index = i
			break
		}
	}
	index = (index + delta + len(priorityOrder)) % len(priorityOrder)
	return string(priorityOrder[index])
}

func describeResult(result assistant.Result) string {
	switch result.Outcome {
	case assistant.OutcomeSkippedNotFound:
		return "Task no longer exists"
	case assistant.OutcomeSkippedInvalid:
		if result.Err != nil {
			return result.Err.Error()
		}
		return "Invalid task"
	}
	if result.Err != nil {
		return result.Err.Error()
	}
	return string(result.Outcome)
}
