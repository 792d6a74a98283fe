package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
	"github.com/Joseda-hg/taskchat/internal/syncer"
)

func TestToggleRollsBackWhenNotConfirmed(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	original := mustAdd(t, store, model.Task{Title: "Pay rent", CreatedAt: created, UpdatedAt: &created})

	svc := newTestService(store, &syncer.Simulated{Delay: 5 * time.Millisecond, FailWhen: func(model.Task) bool { return true }})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	done, err := svc.ToggleStatus(ctx, original.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}

	optimistic, _, _ := store.GetByID(ctx, original.ID)
	if optimistic.Status != model.StatusDone {
		t.Fatalf("expected optimistic DONE before confirmation, got %s", optimistic.Status)
	}

	if err := waitResult(t, done); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}

	reverted, _, _ := store.GetByID(ctx, original.ID)
	if reverted.Status != model.StatusOpen {
		t.Fatalf("expected status reverted to OPEN, got %s", reverted.Status)
	}
	if reverted.UpdatedAt == nil || !reverted.UpdatedAt.Equal(created) {
		t.Fatalf("expected updated_at restored to %v, got %v", created, reverted.UpdatedAt)
	}

	waitFor(t, func() bool {
		snapshot := svc.Snapshot()
		return len(snapshot) == 1 && snapshot[0].Status == model.StatusOpen
	})
}

func TestToggleKeepsConfirmedChange(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := mustAdd(t, store, model.Task{Title: "Stretch", Status: model.StatusDone})
	svc := newTestService(store, &syncer.Simulated{})

	done, err := svc.ToggleStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
	reloaded, _, _ := store.GetByID(ctx, task.ID)
	if reloaded.Status != model.StatusOpen || reloaded.UpdatedAt == nil {
		t.Fatalf("expected confirmed OPEN with updated_at, got %+v", reloaded)
	}
}

func TestToggleRollsBackWhenRedisFails(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	svc := newTestService(store, syncer.NewRedis(client, "", 0, logger))
	task := mustAdd(t, store, model.Task{Title: "Synced"})

	done, err := svc.ToggleStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("expected redis confirmation, got %v", err)
	}
	if !mr.Exists(syncer.Key(task.ID)) {
		t.Fatalf("expected task stored in redis")
	}

	mr.SetError("LOADING")
	done, err = svc.ToggleStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if err := waitResult(t, done); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	reloaded, _, _ := store.GetByID(ctx, task.ID)
	if reloaded.Status != model.StatusDone {
		t.Fatalf("expected confirmed DONE to survive failed toggle, got %s", reloaded.Status)
	}
}

func TestToggleUnknownTask(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	svc := newTestService(store, &syncer.Simulated{})
	if _, err := svc.ToggleStatus(context.Background(), 404); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddManualAndDeleteReindexes(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	svc := newTestService(store, &syncer.Simulated{})

	if _, err := svc.AddManual(ctx, "   ", nil); !errors.Is(err, db.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation for blank title, got %v", err)
	}
	missing := int64(9)
	if _, err := svc.AddManual(ctx, "Orphan", &missing); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected not found parent, got %v", err)
	}

	a, _ := svc.AddManual(ctx, "A", nil)
	b, _ := svc.AddManual(ctx, "B", nil)
	c, _ := svc.AddManual(ctx, "C", nil)
	sub, err := svc.AddManual(ctx, "Sub", &b.ID)
	if err != nil {
		t.Fatalf("add subtask: %v", err)
	}
	if sub.ParentID == nil || *sub.ParentID != b.ID || sub.OrderInParent != 0 {
		t.Fatalf("unexpected subtask %+v", sub)
	}

	if err := svc.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	roots, _ := store.GetChildren(ctx, nil)
	if len(roots) != 2 || roots[0].ID != a.ID || roots[1].ID != c.ID || roots[1].OrderInParent != 1 {
		t.Fatalf("expected [A C] with consecutive orders, got %+v", roots)
	}
	if _, ok, _ := store.GetByID(ctx, sub.ID); !ok {
		t.Fatalf("expected subtask to survive parent delete")
	}
}

func TestAddBeforeAndShift(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	svc := newTestService(store, &syncer.Simulated{})

	a, _ := svc.AddManual(ctx, "A", nil)
	b, _ := svc.AddManual(ctx, "B", nil)
	x, err := svc.AddBefore(ctx, "X", b.ID)
	if err != nil {
		t.Fatalf("add before: %v", err)
	}

	if err := svc.Shift(ctx, b.ID, -2); err != nil {
		t.Fatalf("shift: %v", err)
	}
	if err := svc.Shift(ctx, a.ID, -1); err != nil {
		t.Fatalf("shift at top: %v", err)
	}

	roots, _ := store.GetChildren(ctx, nil)
	got := []int64{roots[0].ID, roots[1].ID, roots[2].ID}
	want := []int64{a.ID, b.ID, x.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestSubscribeSignalsChanges(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newTestService(store, &syncer.Simulated{})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	changes, stop := svc.Subscribe()
	defer stop()

	if _, err := svc.AddManual(ctx, "Ping", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatalf("expected change signal")
	}
	waitFor(t, func() bool { return len(svc.Views().Unfinished) == 1 })
}

func newTestService(store *db.Store, confirmer syncer.Confirmer) *Service {
	logger, _ := test.NewNullLogger()
	return NewService(store, confirmer, logger)
}

func newTestStore(t *testing.T) (*db.Store, func()) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db.NewStore(conn), func() {
		_ = conn.Close()
	}
}

func mustAdd(t *testing.T, store *db.Store, task model.Task) model.Task {
	t.Helper()
	created, err := store.AppendTask(context.Background(), task)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return created
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for confirmation")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
