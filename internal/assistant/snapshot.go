package assistant

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/Joseda-hg/taskchat/internal/model"
)

const (
	DefaultSnapshotLimit = 20
	maxTitleRunes        = 100
)

type SnapshotEntry struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	ParentID *int64 `json:"parent_id,omitempty"`
	DueAt    string `json:"due_at,omitempty"`
	Priority string `json:"priority"`
}

// Snapshot is the task state handed to the model with every request.
type Snapshot struct {
	Now           string          `json:"now"`
	Unfinished    []SnapshotEntry `json:"unfinished"`
	Finished      []SnapshotEntry `json:"finished"`
	FinishedCount int             `json:"finished_count"`
}

func BuildSnapshot(tasks []model.Task, now time.Time, limit int) Snapshot {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	snapshot := Snapshot{
		Now:        now.Format(time.RFC3339),
		Unfinished: []SnapshotEntry{},
		Finished:   []SnapshotEntry{},
	}
	for _, task := range tasks {
		if task.Done() {
			snapshot.FinishedCount++
			if len(snapshot.Finished) < limit {
				snapshot.Finished = append(snapshot.Finished, entryFor(task))
			}
			continue
		}
		if len(snapshot.Unfinished) < limit {
			snapshot.Unfinished = append(snapshot.Unfinished, entryFor(task))
		}
	}
	return snapshot
}

func (s Snapshot) JSON() (string, error) {
	return sonic.MarshalString(s)
}

func entryFor(task model.Task) SnapshotEntry {
	entry := SnapshotEntry{
		ID:       task.ID,
		Title:    truncate(task.Title, maxTitleRunes),
		ParentID: task.ParentID,
		Priority: string(task.Priority),
	}
	if task.DueAt != nil {
		entry.DueAt = task.DueAt.Format(time.RFC3339)
	}
	return entry
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
