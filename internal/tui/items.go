package tui

import (
	"fmt"
	"time"

	"github.com/Joseda-hg/taskchat/internal/model"
	"github.com/Joseda-hg/taskchat/internal/tasks"
)

func formatDue(due *time.Time) string {
	if due == nil {
		return "n/a"
	}
	return due.Local().Format("2006-01-02")
}

func formatTaskSummary(task model.Task, progress tasks.Progress) string {
	check := "[ ]"
	if task.Done() {
		check = "[x]"
	}
	summary := fmt.Sprintf("%s %s", check, task.Title)
	if progress.Total > 0 {
		summary += fmt.Sprintf(" (%d/%d)", progress.Done, progress.Total)
	}
	if task.Priority != "" && task.Priority != model.PriorityDefault {
		summary += fmt.Sprintf(" | %s", task.Priority)
	}
	if task.DueAt != nil {
		summary += fmt.Sprintf(" | due %s", formatDue(task.DueAt))
	}
	return summary
}

func formatMessage(message model.ChatMessage) string {
	who := "You"
	if message.Sender == model.SenderAssistant {
		who = "Assistant"
	}
	marker := ""
	switch message.Status {
	case model.MessageSending:
		marker = " …"
	case model.MessageFailed:
		marker = " ! failed"
		if message.Sender == model.SenderUser {
			marker += " (R to resend)"
		}
	}
	return fmt.Sprintf("%s %s%s: %s", message.Timestamp.Local().Format("15:04"), who, marker, message.Text)
}
