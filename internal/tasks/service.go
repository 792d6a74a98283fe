package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
	"github.com/Joseda-hg/taskchat/internal/syncer"
)

// ErrNotConfirmed is delivered when a toggle was rolled back.
var ErrNotConfirmed = errors.New("status change not confirmed")

const defaultConfirmTimeout = 10 * time.Second

type Store interface {
	Observe(ctx context.Context) (<-chan []model.Task, error)
	ListAll(ctx context.Context) ([]model.Task, error)
	GetByID(ctx context.Context, id int64) (model.Task, bool, error)
	AppendTask(ctx context.Context, task model.Task) (model.Task, error)
	InsertBefore(ctx context.Context, task model.Task, targetID int64) (model.Task, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status, updatedAt *time.Time) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	Move(ctx context.Context, taskID int64, newParentID *int64, newIndex *int) error
	Reorder(ctx context.Context, taskID int64, newOrder int) error
	Reindex(ctx context.Context, parentID *int64) error
}

// Service is the write path shared by the front-ends and the read-only
// projection they render from.
type Service struct {
	store     Store
	confirmer syncer.Confirmer
	logger    *log.Logger

	Now            func() time.Time
	ConfirmTimeout time.Duration

	mu        sync.RWMutex
	snapshot  []model.Task
	listeners map[int]chan struct{}
	nextID    int
}

func NewService(store Store, confirmer syncer.Confirmer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:          store,
		confirmer:      confirmer,
		logger:         logger,
		Now:            time.Now,
		ConfirmTimeout: defaultConfirmTimeout,
		listeners:      make(map[int]chan struct{}),
	}
}

// Start feeds the projection from the store until ctx is done. The first
// snapshot is loaded before Start returns.
func (s *Service) Start(ctx context.Context) error {
	updates, err := s.store.Observe(ctx)
	if err != nil {
		return err
	}
	s.apply(<-updates)

	go func() {
		for tasks := range updates {
			s.apply(tasks)
		}
	}()
	return nil
}

func (s *Service) apply(tasks []model.Task) {
	s.mu.Lock()
	s.snapshot = tasks
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the latest task list in canonical order.
func (s *Service) Snapshot() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Subscribe signals every projection change. Call the returned func to stop.
func (s *Service) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Get reads a task from the store rather than the projection.
func (s *Service) Get(ctx context.Context, id int64) (model.Task, bool, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) Views() Views {
	return BuildViews(s.Snapshot())
}

// AddManual appends a new open task under parentID, or at root when nil.
func (s *Service) AddManual(ctx context.Context, title string, parentID *int64) (model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Task{}, fmt.Errorf("title is required: %w", db.ErrConstraintViolation)
	}
	if parentID != nil {
		if _, ok, err := s.store.GetByID(ctx, *parentID); err != nil {
			return model.Task{}, err
		} else if !ok {
			return model.Task{}, fmt.Errorf("parent %d: %w", *parentID, db.ErrNotFound)
		}
	}
	now := s.Now()
	return s.store.AppendTask(ctx, model.Task{
		Title:     title,
		Status:    model.StatusOpen,
		Priority:  model.PriorityDefault,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: &now,
	})
}

// AddBefore inserts a new open task at targetID's position.
func (s *Service) AddBefore(ctx context.Context, title string, targetID int64) (model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Task{}, fmt.Errorf("title is required: %w", db.ErrConstraintViolation)
	}
	now := s.Now()
	return s.store.InsertBefore(ctx, model.Task{
		Title:     title,
		Status:    model.StatusOpen,
		Priority:  model.PriorityDefault,
		CreatedAt: now,
		UpdatedAt: &now,
	}, targetID)
}

// ToggleStatus flips the task's status right away and confirms it in the
// background. When confirmation fails the previous status and updated_at
// are written back. The channel receives nil or an error wrapping
// ErrNotConfirmed, then closes.
func (s *Service) ToggleStatus(ctx context.Context, id int64) (<-chan error, error) {
	previous, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, db.ErrNotFound)
	}

	now := s.Now()
	toggled := previous
	toggled.Status = previous.Status.Toggled()
	toggled.UpdatedAt = &now
	if _, err := s.store.UpdateStatus(ctx, id, toggled.Status, toggled.UpdatedAt); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(log.Fields{"task_id": id, "status": toggled.Status})
	done := make(chan error, 1)
	go func() {
		defer close(done)

		confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ConfirmTimeout)
		defer cancel()

		confirmed, err := s.confirmer.Confirm(confirmCtx, toggled)
		if err == nil && confirmed {
			logger.Debug("status change confirmed")
			done <- nil
			return
		}

		logger.WithError(err).Warn("status change not confirmed, rolling back")
		notConfirmed := fmt.Errorf("task %d: %w", id, ErrNotConfirmed)
		if _, rollbackErr := s.store.UpdateStatus(context.WithoutCancel(ctx), id, previous.Status, previous.UpdatedAt); rollbackErr != nil {
			logger.WithError(rollbackErr).Error("roll back status change")
			done <- errors.Join(notConfirmed, rollbackErr)
			return
		}
		done <- notConfirmed
	}()
	return done, nil
}

// Delete removes a task and closes the gap it leaves among its siblings.
// Children keep their parent reference.
func (s *Service) Delete(ctx context.Context, id int64) error {
	task, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d: %w", id, db.ErrNotFound)
	}
	if _, err := s.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	return s.store.Reindex(ctx, task.ParentID)
}

func (s *Service) Move(ctx context.Context, id int64, parentID *int64, index *int) error {
	return s.store.Move(ctx, id, parentID, index)
}

func (s *Service) Reorder(ctx context.Context, id int64, order int) error {
	return s.store.Reorder(ctx, id, order)
}

// Shift moves a task up (negative delta) or down among its siblings.
func (s *Service) Shift(ctx context.Context, id int64, delta int) error {
	task, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d: %w", id, db.ErrNotFound)
	}
	target := task.OrderInParent + delta
	if target < 0 {
		target = 0
	}
	return s.store.Reorder(ctx, id, target)
}
