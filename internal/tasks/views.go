package tasks

import "github.com/Joseda-hg/taskchat/internal/model"

type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type Views struct {
	Unfinished []model.Task       `json:"unfinished"`
	Finished   []model.Task       `json:"finished"`
	Progress   map[int64]Progress `json:"progress"`
}

// BuildViews partitions tasks by status and counts direct children per
// parent. Order within each list follows the input.
func BuildViews(tasks []model.Task) Views {
	views := Views{
		Unfinished: []model.Task{},
		Finished:   []model.Task{},
		Progress:   map[int64]Progress{},
	}
	for _, task := range tasks {
		if task.Done() {
			views.Finished = append(views.Finished, task)
		} else {
			views.Unfinished = append(views.Unfinished, task)
		}
		if task.ParentID == nil {
			continue
		}
		progress := views.Progress[*task.ParentID]
		progress.Total++
		if task.Done() {
			progress.Done++
		}
		views.Progress[*task.ParentID] = progress
	}
	return views
}
