package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/model"
)

type Executor interface {
	Execute(ctx context.Context, actions []assistant.Action) []assistant.Result
}

type Lister interface {
	ListAll(ctx context.Context) ([]model.Task, error)
}

type ListInput struct {
	Status string `json:"status,omitempty" jsonschema:"open, done or all (default all)"`
}

type TaskView struct {
	ID            int64  `json:"id"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	OrderInParent int    `json:"order_in_parent"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	CreatedAt     string `json:"created_at"`
	DueAt         string `json:"due_at,omitempty"`
}

type ListOutput struct {
	Tasks []TaskView `json:"tasks"`
}

type AddInput struct {
	Title    string  `json:"title" jsonschema:"task title"`
	Notes    *string `json:"notes,omitempty" jsonschema:"optional notes"`
	DueAt    *string `json:"due_at,omitempty" jsonschema:"ISO-8601 due date or timestamp"`
	Priority *string `json:"priority,omitempty" jsonschema:"LOW, MEDIUM or HIGH"`
	ParentID *int64  `json:"parent_id,omitempty" jsonschema:"id of the parent task"`
}

type UpdateInput struct {
	ID            int64   `json:"id" jsonschema:"id of the task to change"`
	Title         *string `json:"title,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	DueAt         *string `json:"due_at,omitempty"`
	Priority      *string `json:"priority,omitempty"`
	ParentID      *int64  `json:"parent_id,omitempty" jsonschema:"new parent task id"`
	OrderInParent *int    `json:"order_in_parent,omitempty" jsonschema:"position among siblings"`
	ClearNotes    bool    `json:"clear_notes,omitempty"`
	ClearDue      bool    `json:"clear_due,omitempty"`
	MoveToRoot    bool    `json:"move_to_root,omitempty" jsonschema:"move the task to the top level"`
}

type IDInput struct {
	ID int64 `json:"id" jsonschema:"task id"`
}

type ActionOutput struct {
	Kind    string `json:"kind"`
	TaskID  int64  `json:"task_id,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// Server exposes the assistant actions as MCP tools. Every write goes
// through the same executor the chat uses.
type Server struct {
	exec   Executor
	store  Lister
	logger *log.Logger
}

func New(exec Executor, store Lister, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{exec: exec, store: store, logger: logger}
}

func (s *Server) MCP(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "taskchat", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{Name: "list_tasks", Description: "List tasks in display order"}, s.listTasks)
	mcp.AddTool(server, &mcp.Tool{Name: "add_task", Description: "Add a task, optionally under a parent"}, s.addTask)
	mcp.AddTool(server, &mcp.Tool{Name: "update_task", Description: "Change fields of a task; omitted fields stay unchanged"}, s.updateTask)
	mcp.AddTool(server, &mcp.Tool{Name: "complete_task", Description: "Mark a task as done"}, s.completeTask)
	mcp.AddTool(server, &mcp.Tool{Name: "delete_task", Description: "Delete a task"}, s.deleteTask)
	return server
}

// Run serves over stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context, version string) error {
	s.logger.Info("mcp server listening on stdio")
	return s.MCP(version).Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) listTasks(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, ListOutput, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}

	out := ListOutput{Tasks: make([]TaskView, 0, len(all))}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	for _, task := range all {
		switch {
		case status == "open" && task.Done():
			continue
		case status == "done" && !task.Done():
			continue
		}
		out.Tasks = append(out.Tasks, viewOf(task))
	}
	return textResult(out, false), out, nil
}

func (s *Server) addTask(ctx context.Context, _ *mcp.CallToolRequest, in AddInput) (*mcp.CallToolResult, ActionOutput, error) {
	action := assistant.AddTask{Title: in.Title}
	if in.Notes != nil {
		action.Notes = assistant.Some(*in.Notes)
	}
	if in.DueAt != nil {
		action.DueAtISO = assistant.Some(*in.DueAt)
	}
	if in.Priority != nil {
		action.Priority = assistant.Some(*in.Priority)
	}
	if in.ParentID != nil {
		action.ParentID = assistant.Some(*in.ParentID)
	}
	return s.run(ctx, action)
}

func (s *Server) updateTask(ctx context.Context, _ *mcp.CallToolRequest, in UpdateInput) (*mcp.CallToolResult, ActionOutput, error) {
	action := assistant.UpdateTask{ID: in.ID}
	if in.Title != nil {
		action.Title = assistant.Some(*in.Title)
	}
	switch {
	case in.ClearNotes:
		action.Notes = assistant.Null[string]()
	case in.Notes != nil:
		action.Notes = assistant.Some(*in.Notes)
	}
	switch {
	case in.ClearDue:
		action.DueAtISO = assistant.Null[string]()
	case in.DueAt != nil:
		action.DueAtISO = assistant.Some(*in.DueAt)
	}
	if in.Priority != nil {
		action.Priority = assistant.Some(*in.Priority)
	}
	switch {
	case in.MoveToRoot:
		action.ParentID = assistant.Null[int64]()
	case in.ParentID != nil:
		action.ParentID = assistant.Some(*in.ParentID)
	}
	if in.OrderInParent != nil {
		action.OrderInParent = assistant.Some(*in.OrderInParent)
	}
	return s.run(ctx, action)
}

func (s *Server) completeTask(ctx context.Context, _ *mcp.CallToolRequest, in IDInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.run(ctx, assistant.CompleteTask{ID: in.ID})
}

func (s *Server) deleteTask(ctx context.Context, _ *mcp.CallToolRequest, in IDInput) (*mcp.CallToolResult, ActionOutput, error) {
	return s.run(ctx, assistant.DeleteTask{ID: in.ID})
}

func (s *Server) run(ctx context.Context, action assistant.Action) (*mcp.CallToolResult, ActionOutput, error) {
	results := s.exec.Execute(ctx, []assistant.Action{action})
	if len(results) == 0 {
		return nil, ActionOutput{}, fmt.Errorf("%s produced no result", action.Kind())
	}
	result := results[0]
	out := ActionOutput{Kind: result.Kind, TaskID: result.TaskID, Outcome: string(result.Outcome)}
	if result.Err != nil {
		out.Message = result.Err.Error()
	}
	s.logger.WithFields(log.Fields{"tool": action.Kind(), "outcome": out.Outcome, "task_id": out.TaskID}).Debug("mcp tool call")
	return textResult(out, result.Outcome != assistant.OutcomeApplied), out, nil
}

func viewOf(task model.Task) TaskView {
	view := TaskView{
		ID:            task.ID,
		ParentID:      task.ParentID,
		OrderInParent: task.OrderInParent,
		Title:         task.Title,
		Notes:         task.Content,
		Status:        string(task.Status),
		Priority:      string(task.Priority),
		CreatedAt:     task.CreatedAt.Format(time.RFC3339),
	}
	if task.DueAt != nil {
		view.DueAt = task.DueAt.Format(time.RFC3339)
	}
	return view
}

func textResult(v any, isError bool) *mcp.CallToolResult {
	text, err := sonic.MarshalString(v)
	if err != nil {
		text = fmt.Sprintf("%+v", v)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
