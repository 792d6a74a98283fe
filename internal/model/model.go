package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusOpen Status = "OPEN"
	StatusDone Status = "DONE"
)

// ParseStatus accepts the stored form plus the loose spellings found in seed
// files and assistant output. Anything unrecognised is OPEN.
func ParseStatus(value string) Status {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "DONE", "COMPLETED", "COMPLETE", "FINISHED":
		return StatusDone
	default:
		return StatusOpen
	}
}

func (s Status) Toggled() Status {
	if s == StatusDone {
		return StatusOpen
	}
	return StatusDone
}

type Priority string

const (
	PriorityLow     Priority = "LOW"
	PriorityMedium  Priority = "MEDIUM"
	PriorityHigh    Priority = "HIGH"
	PriorityDefault Priority = "DEFAULT"
)

func ParsePriority(value string) Priority {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LOW":
		return PriorityLow
	case "MEDIUM", "MED", "NORMAL":
		return PriorityMedium
	case "HIGH", "URGENT":
		return PriorityHigh
	default:
		return PriorityDefault
	}
}

type Task struct {
	ID            int64      `json:"id"`
	ParentID      *int64     `json:"parent_id,omitempty"`
	OrderInParent int        `json:"order_in_parent"`
	Title         string     `json:"title"`
	Content       string     `json:"content,omitempty"`
	Status        Status     `json:"status"`
	Priority      Priority   `json:"priority"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
}

func (t Task) Done() bool {
	return t.Status == StatusDone
}

// SameParent reports whether both references point at the same sibling group.
func SameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type Sender string

const (
	SenderUser      Sender = "User"
	SenderAssistant Sender = "Assistant"
)

type MessageStatus string

const (
	MessageSending MessageStatus = "Sending"
	MessageSent    MessageStatus = "Sent"
	MessageFailed  MessageStatus = "Failed"
)

type ChatMessage struct {
	ID        string        `json:"id"`
	Sender    Sender        `json:"sender"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	ReplyToID *string       `json:"reply_to_id,omitempty"`
}
