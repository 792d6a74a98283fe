package tasks

import "github.com/Joseda-hg/taskchat/internal/model"

type Node struct {
	Task        model.Task
	Depth       int
	HasChildren bool
}

// Tree flattens tasks into display order. Children whose parent no longer
// exists are shown at root, as is the first task of any parent cycle.
// Collapsed parents hide their descendants.
func Tree(tasks []model.Task, collapsed map[int64]bool) []Node {
	if len(tasks) == 0 {
		return nil
	}

	exists := make(map[int64]struct{}, len(tasks))
	for _, task := range tasks {
		exists[task.ID] = struct{}{}
	}

	var roots []model.Task
	children := make(map[int64][]model.Task)
	for _, task := range tasks {
		if task.ParentID != nil {
			if _, ok := exists[*task.ParentID]; ok && *task.ParentID != task.ID {
				children[*task.ParentID] = append(children[*task.ParentID], task)
				continue
			}
		}
		roots = append(roots, task)
	}

	reached := make(map[int64]bool, len(tasks))
	var reach func(group []model.Task)
	reach = func(group []model.Task) {
		for _, task := range group {
			if reached[task.ID] {
				continue
			}
			reached[task.ID] = true
			reach(children[task.ID])
		}
	}
	reach(roots)
	for _, task := range tasks {
		if !reached[task.ID] {
			roots = append(roots, task)
			reach([]model.Task{task})
		}
	}

	nodes := make([]Node, 0, len(tasks))
	visited := make(map[int64]bool, len(tasks))
	var walk func(group []model.Task, depth int)
	walk = func(group []model.Task, depth int) {
		for _, task := range group {
			if visited[task.ID] {
				continue
			}
			visited[task.ID] = true
			kids := children[task.ID]
			nodes = append(nodes, Node{Task: task, Depth: depth, HasChildren: len(kids) > 0})
			if collapsed[task.ID] {
				continue
			}
			walk(kids, depth+1)
		}
	}
	walk(roots, 0)
	return nodes
}
