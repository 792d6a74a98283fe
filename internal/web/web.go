package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/chat"
	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
	"github.com/Joseda-hg/taskchat/internal/tasks"
)

const maxBodySize = 64 << 10

type Server struct {
	tasks  *tasks.Service
	chat   *chat.Session
	auth   *Auth
	logger *log.Logger
}

type taskRow struct {
	Task        model.Task `json:"task"`
	Depth       int        `json:"depth"`
	HasChildren bool       `json:"has_children"`
}

type addTaskRequest struct {
	Title    string `json:"title"`
	ParentID *int64 `json:"parent_id"`
	BeforeID *int64 `json:"before_id"`
}

type moveRequest struct {
	ParentID *int64 `json:"parent_id"`
	Index    *int   `json:"index"`
}

type reorderRequest struct {
	Order int `json:"order"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// NewServer builds the JSON API. auth may be nil to serve without tokens.
func NewServer(service *tasks.Service, session *chat.Session, auth *Auth, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{tasks: service, chat: session, auth: auth, logger: logger}
}

func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	api := e.Group("/api", s.auth.Middleware())
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.addTask)
	api.POST("/tasks/:id/toggle", s.toggleTask)
	api.POST("/tasks/:id/move", s.moveTask)
	api.POST("/tasks/:id/reorder", s.reorderTask)
	api.DELETE("/tasks/:id", s.deleteTask)
	api.GET("/views", s.views)
	api.GET("/chat", s.messages)
	api.POST("/chat", s.sendChat)
	api.POST("/chat/:id/resend", s.resendChat)
	return e
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	e := s.Handler()
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("web server listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.WithFields(log.Fields{
				"method":   c.Request().Method,
				"path":     c.Path(),
				"status":   c.Response().Status,
				"duration": time.Since(start),
			}).Debug("request")
			return nil
		}
	}
}

func (s *Server) listTasks(c echo.Context) error {
	snapshot := s.tasks.Snapshot()
	nodes := tasks.Tree(snapshot, nil)
	rows := make([]taskRow, 0, len(nodes))
	for _, node := range nodes {
		rows = append(rows, taskRow{Task: node.Task, Depth: node.Depth, HasChildren: node.HasChildren})
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": rows, "total": len(snapshot)})
}

func (s *Server) addTask(c echo.Context) error {
	var req addTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	var (
		task model.Task
		err  error
	)
	if req.BeforeID != nil {
		task, err = s.tasks.AddBefore(ctx, req.Title, *req.BeforeID)
	} else {
		task, err = s.tasks.AddManual(ctx, req.Title, req.ParentID)
	}
	if err != nil {
		return s.storeError(err)
	}
	return c.JSON(http.StatusCreated, task)
}

// toggleTask answers right away with the optimistic state. With ?wait=true
// it waits for confirmation and reports a rollback as 409.
func (s *Server) toggleTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	done, err := s.tasks.ToggleStatus(ctx, id)
	if err != nil {
		return s.storeError(err)
	}

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		select {
		case err := <-done:
			if errors.Is(err, tasks.ErrNotConfirmed) {
				return echo.NewHTTPError(http.StatusConflict, err.Error())
			}
			if err != nil {
				return s.storeError(err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	task, ok, err := s.tasks.Get(ctx, id)
	if err != nil {
		return s.storeError(err)
	}
	if !ok {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) moveTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := s.tasks.Move(c.Request().Context(), id, req.ParentID, req.Index); err != nil {
		return s.storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reorderTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := s.tasks.Reorder(c.Request().Context(), id, req.Order); err != nil {
		return s.storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(c.Request().Context(), id); err != nil {
		return s.storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) views(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tasks.Views())
}

func (s *Server) messages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"messages": s.chat.Messages()})
}

func (s *Server) sendChat(c echo.Context) error {
	var req chatRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	turn, err := s.chat.Send(c.Request().Context(), req.Text)
	return s.chatResponse(c, turn, err)
}

func (s *Server) resendChat(c echo.Context) error {
	turn, err := s.chat.Resend(c.Request().Context(), c.Param("id"))
	return s.chatResponse(c, turn, err)
}

func (s *Server) chatResponse(c echo.Context, turn chat.Turn, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, turn)
	case errors.Is(err, chat.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotFailed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusBadGateway, turn)
}

func (s *Server) storeError(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrConstraintViolation), errors.Is(err, db.ErrCycle):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	s.logger.WithError(err).Error("task request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
	}
	return id, nil
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}
