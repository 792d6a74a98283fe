package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/taskchat/internal/model"
)

func TestInsertRoundTripsAllFields(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	parent := mustAppend(t, store, model.Task{Title: "Parent"})
	created := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)
	updated := created.Add(time.Hour)
	due := created.Add(48 * time.Hour)
	original := model.Task{
		ID:            4242,
		ParentID:      &parent.ID,
		OrderInParent: 3,
		Title:         "Write tests",
		Content:       "cover the ordering engine",
		Status:        model.StatusDone,
		Priority:      model.PriorityHigh,
		CreatedAt:     created,
		UpdatedAt:     &updated,
		DueAt:         &due,
	}

	id, err := store.Insert(context.Background(), original)
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if id != original.ID {
		t.Fatalf("expected id %d, got %d", original.ID, id)
	}

	got, ok, err := store.GetByID(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if got.Title != original.Title || got.Content != original.Content || got.Status != original.Status || got.Priority != original.Priority {
		t.Fatalf("scalar fields differ: %+v vs %+v", got, original)
	}
	if got.OrderInParent != original.OrderInParent || got.ParentID == nil || *got.ParentID != parent.ID {
		t.Fatalf("hierarchy fields differ: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.UpdatedAt == nil || !got.UpdatedAt.Equal(updated) || got.DueAt == nil || !got.DueAt.Equal(due) {
		t.Fatalf("timestamps differ: %+v", got)
	}
}

func TestEntityRoundTripKeepsAbsentFieldsAbsent(t *testing.T) {
	task := model.Task{ID: 7, Title: "Plain", Status: model.StatusOpen, Priority: model.PriorityLow, CreatedAt: time.Unix(1700000000, 5).UTC()}

	back := toEntity(task).toDomain()
	if back.ParentID != nil || back.DueAt != nil || back.UpdatedAt != nil {
		t.Fatalf("expected optional fields to stay nil, got %+v", back)
	}
	if back.ID != task.ID || back.Title != task.Title || !back.CreatedAt.Equal(task.CreatedAt) || back.Priority != task.Priority {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, task)
	}
}

func TestInsertAssignsIDAndRejectsEmptyTitle(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	first, err := store.Insert(context.Background(), model.Task{Title: "First"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := store.Insert(context.Background(), model.Task{Title: "Second"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first == 0 || second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}

	if _, err := store.Insert(context.Background(), model.Task{Title: "   "}); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tasks, got %d", count)
	}
}

func TestUpdateAndDeleteReportRowsAffected(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	task := mustAppend(t, store, model.Task{Title: "Draft"})
	task.Title = "Final"
	rows, err := store.Update(context.Background(), task)
	if err != nil || rows != 1 {
		t.Fatalf("update existing: rows=%d err=%v", rows, err)
	}

	rows, err = store.Update(context.Background(), model.Task{ID: 999, Title: "Ghost"})
	if err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected 0 rows for missing task, got %d", rows)
	}

	now := time.Now()
	rows, err = store.UpdateStatus(context.Background(), task.ID, model.StatusDone, &now)
	if err != nil || rows != 1 {
		t.Fatalf("update status: rows=%d err=%v", rows, err)
	}
	reloaded, _, _ := store.GetByID(context.Background(), task.ID)
	if reloaded.Status != model.StatusDone || reloaded.UpdatedAt == nil {
		t.Fatalf("expected DONE with updated_at, got %+v", reloaded)
	}

	rows, err = store.DeleteByID(context.Background(), task.ID)
	if err != nil || rows != 1 {
		t.Fatalf("delete: rows=%d err=%v", rows, err)
	}
	rows, err = store.DeleteByID(context.Background(), task.ID)
	if err != nil || rows != 0 {
		t.Fatalf("second delete: rows=%d err=%v", rows, err)
	}
}

func TestGetChildrenTreatsNilAsRoot(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	root := mustAppend(t, store, model.Task{Title: "Root"})
	mustAppend(t, store, model.Task{Title: "Child", ParentID: &root.ID})
	mustAppend(t, store, model.Task{Title: "Other root"})

	roots, err := store.GetChildren(context.Background(), nil)
	if err != nil {
		t.Fatalf("get roots: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 root tasks, got %d", len(roots))
	}

	kids, err := store.GetChildren(context.Background(), &root.ID)
	if err != nil {
		t.Fatalf("get children: %v", err)
	}
	if len(kids) != 1 || kids[0].Title != "Child" {
		t.Fatalf("unexpected children: %+v", kids)
	}

	empty := int64(12345)
	max, err := store.GetMaxOrderInParent(context.Background(), &empty)
	if err != nil {
		t.Fatalf("max order: %v", err)
	}
	if max != nil {
		t.Fatalf("expected no max order for empty group, got %d", *max)
	}
}

func TestSequentialAppendsToEmptyRootGetDistinctOrders(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	first := mustAppend(t, store, model.Task{Title: "One"})
	second := mustAppend(t, store, model.Task{Title: "Two"})

	if first.OrderInParent != 0 || second.OrderInParent != 1 {
		t.Fatalf("expected orders 0 and 1, got %d and %d", first.OrderInParent, second.OrderInParent)
	}
}

func TestConcurrentAppendsNeverShareAnOrder(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := store.AppendTask(context.Background(), model.Task{Title: "Concurrent"})
			errs <- err
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	assertConsecutive(t, store, nil, workers)
}

func TestInsertBeforeShiftsTargetAndFollowers(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	a := mustAppend(t, store, model.Task{Title: "A"})
	b := mustAppend(t, store, model.Task{Title: "B"})
	c := mustAppend(t, store, model.Task{Title: "C"})

	inserted, err := store.InsertBefore(context.Background(), model.Task{Title: "X"}, b.ID)
	if err != nil {
		t.Fatalf("insert before: %v", err)
	}
	if inserted.OrderInParent != 1 {
		t.Fatalf("expected inserted order 1, got %d", inserted.OrderInParent)
	}
	assertOrder(t, store, nil, a.ID, inserted.ID, b.ID, c.ID)

	if _, err := store.InsertBefore(context.Background(), model.Task{Title: "Y"}, 777); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing target, got %v", err)
	}
	assertConsecutive(t, store, nil, 4)
}

func TestReorderWithinParent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	a := mustAppend(t, store, model.Task{Title: "A"})
	b := mustAppend(t, store, model.Task{Title: "B"})
	c := mustAppend(t, store, model.Task{Title: "C"})
	d := mustAppend(t, store, model.Task{Title: "D"})

	if err := store.Reorder(context.Background(), d.ID, 0); err != nil {
		t.Fatalf("reorder to front: %v", err)
	}
	assertOrder(t, store, nil, d.ID, a.ID, b.ID, c.ID)

	if err := store.Reorder(context.Background(), d.ID, 99); err != nil {
		t.Fatalf("reorder past end: %v", err)
	}
	assertOrder(t, store, nil, a.ID, b.ID, c.ID, d.ID)

	if err := store.Reorder(context.Background(), a.ID, -5); err != nil {
		t.Fatalf("reorder negative: %v", err)
	}
	assertOrder(t, store, nil, a.ID, b.ID, c.ID, d.ID)

	if err := store.Reorder(context.Background(), 31337, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMoveToNewParentAppendsAndClosesGap(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	parent := mustAppend(t, store, model.Task{Title: "Parent"})
	first := mustAppend(t, store, model.Task{Title: "First", ParentID: &parent.ID})
	second := mustAppend(t, store, model.Task{Title: "Second", ParentID: &parent.ID})
	mover := mustAppend(t, store, model.Task{Title: "Mover"})
	after := mustAppend(t, store, model.Task{Title: "After"})

	if err := store.Move(context.Background(), mover.ID, &parent.ID, nil); err != nil {
		t.Fatalf("move: %v", err)
	}

	assertOrder(t, store, &parent.ID, first.ID, second.ID, mover.ID)
	assertConsecutive(t, store, &parent.ID, 3)
	assertOrder(t, store, nil, parent.ID, after.ID)
	assertConsecutive(t, store, nil, 2)
}

func TestMoveWithIndexShiftsNewSiblings(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	parent := mustAppend(t, store, model.Task{Title: "Parent"})
	first := mustAppend(t, store, model.Task{Title: "First", ParentID: &parent.ID})
	second := mustAppend(t, store, model.Task{Title: "Second", ParentID: &parent.ID})
	mover := mustAppend(t, store, model.Task{Title: "Mover"})

	index := 1
	if err := store.Move(context.Background(), mover.ID, &parent.ID, &index); err != nil {
		t.Fatalf("move: %v", err)
	}
	assertOrder(t, store, &parent.ID, first.ID, mover.ID, second.ID)
	assertConsecutive(t, store, &parent.ID, 3)

	if err := store.Move(context.Background(), mover.ID, nil, &index); err != nil {
		t.Fatalf("move back to root: %v", err)
	}
	assertOrder(t, store, nil, parent.ID, mover.ID)
	assertOrder(t, store, &parent.ID, first.ID, second.ID)
	assertConsecutive(t, store, &parent.ID, 2)
}

func TestMoveRejectsCyclesAndUnknownParents(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	grand := mustAppend(t, store, model.Task{Title: "Grand"})
	parent := mustAppend(t, store, model.Task{Title: "Parent", ParentID: &grand.ID})
	child := mustAppend(t, store, model.Task{Title: "Child", ParentID: &parent.ID})

	if err := store.Move(context.Background(), grand.ID, &child.ID, nil); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if err := store.Move(context.Background(), parent.ID, &grand.ID, nil); err != nil {
		t.Fatalf("same parent move should be a no-op, got %v", err)
	}
	if err := store.Move(context.Background(), parent.ID, &parent.ID, nil); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle error for self parent, got %v", err)
	}
	missing := int64(55555)
	if err := store.Move(context.Background(), child.ID, &missing, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown parent, got %v", err)
	}

	reloaded, _, _ := store.GetByID(context.Background(), grand.ID)
	if reloaded.ParentID != nil {
		t.Fatalf("rejected move must not change parent, got %v", *reloaded.ParentID)
	}
}

func TestReindexClosesGapsLeftByDeletes(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	a := mustAppend(t, store, model.Task{Title: "A"})
	b := mustAppend(t, store, model.Task{Title: "B"})
	c := mustAppend(t, store, model.Task{Title: "C"})

	if _, err := store.DeleteByID(context.Background(), b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Reindex(context.Background(), nil); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	assertOrder(t, store, nil, a.ID, c.ID)
	assertConsecutive(t, store, nil, 2)

	if err := store.Reindex(context.Background(), nil); err != nil {
		t.Fatalf("second reindex: %v", err)
	}
	assertConsecutive(t, store, nil, 2)
}

func TestOrderingOperationsKeepGroupsDuplicateFree(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p := mustAppend(t, store, model.Task{Title: "P"})
	q := mustAppend(t, store, model.Task{Title: "Q"})
	ids := []int64{}
	for i := 0; i < 6; i++ {
		task := mustAppend(t, store, model.Task{Title: "item", ParentID: &p.ID})
		ids = append(ids, task.ID)
	}

	two, zero := 2, 0
	steps := []func() error{
		func() error { return store.Reorder(ctx, ids[5], 0) },
		func() error { return store.Move(ctx, ids[2], &q.ID, nil) },
		func() error { return store.Move(ctx, ids[3], &q.ID, &zero) },
		func() error { _, err := store.InsertBefore(ctx, model.Task{Title: "new"}, ids[0]); return err },
		func() error { return store.Move(ctx, ids[4], nil, &two) },
		func() error { return store.Reorder(ctx, ids[1], 3) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		for _, parent := range []*int64{nil, &p.ID, &q.ID} {
			assertNoDuplicates(t, store, parent)
		}
	}
	for _, parent := range []*int64{nil, &p.ID, &q.ID} {
		if err := store.Reindex(ctx, parent); err != nil {
			t.Fatalf("reindex: %v", err)
		}
		siblings, _ := store.GetChildren(ctx, parent)
		assertConsecutive(t, store, parent, len(siblings))
	}
}

func TestDeletingParentLeavesChildrenDangling(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	parent := mustAppend(t, store, model.Task{Title: "Parent"})
	child := mustAppend(t, store, model.Task{Title: "Child", ParentID: &parent.ID})

	if _, err := store.DeleteByID(context.Background(), parent.ID); err != nil {
		t.Fatalf("delete parent: %v", err)
	}

	reloaded, ok, err := store.GetByID(context.Background(), child.ID)
	if err != nil || !ok {
		t.Fatalf("get child after parent delete: ok=%v err=%v", ok, err)
	}
	if reloaded.ParentID == nil || *reloaded.ParentID != parent.ID {
		t.Fatalf("expected child to keep dangling parent %d, got %v", parent.ID, reloaded.ParentID)
	}
}

func TestObserveEmitsSnapshotAfterEachMutation(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := store.Observe(ctx)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if initial := <-updates; len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(initial))
	}

	mustAppend(t, store, model.Task{Title: "Observed"})
	select {
	case snapshot := <-updates:
		if len(snapshot) != 1 || snapshot[0].Title != "Observed" {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected snapshot after insert")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-updates:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel to close after cancel")
		}
	}
}

func TestMoveWithinSameParentWithoutIndexKeepsPosition(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	first := mustAppend(t, store, model.Task{Title: "First"})
	second := mustAppend(t, store, model.Task{Title: "Second"})
	third := mustAppend(t, store, model.Task{Title: "Third"})

	if err := store.Move(ctx, first.ID, nil, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	assertOrder(t, store, nil, first.ID, second.ID, third.ID)

	index := 2
	if err := store.Move(ctx, first.ID, nil, &index); err != nil {
		t.Fatalf("move with index: %v", err)
	}
	assertOrder(t, store, nil, second.ID, third.ID, first.ID)
}

func TestObserverSettlesOnLatestAfterConcurrentAppends(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	for round := 0; round < 50; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		updates, err := store.Observe(ctx)
		if err != nil {
			cancel()
			t.Fatalf("observe: %v", err)
		}
		<-updates

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.AppendTask(context.Background(), model.Task{Title: "Concurrent"}); err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
		wg.Wait()

		latest := <-updates
		count, err := store.Count(context.Background())
		if err != nil {
			cancel()
			t.Fatalf("count: %v", err)
		}
		cancel()
		if len(latest) != count {
			t.Fatalf("round %d: observer settled on %d tasks, store has %d", round, len(latest), count)
		}
	}
}

func TestEditWritesOnlyEditableFields(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	parent := mustAppend(t, store, model.Task{Title: "Parent"})
	first := mustAppend(t, store, model.Task{Title: "First"})
	if _, err := store.UpdateStatus(ctx, first.ID, model.StatusDone, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	err := store.Edit(ctx, first.ID, TaskEdit{Fields: func(task *model.Task) bool {
		task.Title = "Renamed"
		task.Priority = model.PriorityHigh
		task.Status = model.StatusOpen
		task.OrderInParent = 7
		task.ParentID = &parent.ID
		return true
	}})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	got, _, _ := store.GetByID(ctx, first.ID)
	if got.Title != "Renamed" || got.Priority != model.PriorityHigh {
		t.Fatalf("expected title and priority to change, got %+v", got)
	}
	if got.Status != model.StatusDone || got.OrderInParent != 1 || got.ParentID != nil {
		t.Fatalf("expected status and placement untouched, got %+v", got)
	}

	if err := store.Edit(ctx, 999, TaskEdit{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = store.Edit(ctx, first.ID, TaskEdit{Fields: func(task *model.Task) bool {
		task.Title = " "
		return true
	}})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation for blank title, got %v", err)
	}
}

func TestEditRollsBackFieldsWhenMoveFails(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	root := mustAppend(t, store, model.Task{Title: "Root"})
	child := mustAppend(t, store, model.Task{Title: "Child", ParentID: &root.ID})
	other := mustAppend(t, store, model.Task{Title: "Other"})

	err := store.Edit(ctx, root.ID, TaskEdit{
		Fields:   func(task *model.Task) bool { task.Title = "Renamed"; return true },
		Reparent: true,
		ParentID: &child.ID,
	})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	got, _, _ := store.GetByID(ctx, root.ID)
	if got.Title != "Root" {
		t.Fatalf("expected title rolled back, got %q", got.Title)
	}

	index := 0
	err = store.Edit(ctx, other.ID, TaskEdit{
		Fields: func(task *model.Task) bool { task.Content = "moved"; return true },
		Index:  &index,
	})
	if err != nil {
		t.Fatalf("edit with reorder: %v", err)
	}
	assertOrder(t, store, nil, other.ID, root.ID)
}

func TestOpenRecreatesSchemaOnVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	conn, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewStore(conn)
	mustAppend(t, store, model.Task{Title: "Old data"})
	if _, err := conn.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("downgrade version: %v", err)
	}
	_ = conn.Close()

	conn, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()
	count, err := NewStore(conn).Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected recreated empty table, got %d rows", count)
	}
}

func mustAppend(t *testing.T, store *Store, task model.Task) model.Task {
	t.Helper()
	created, err := store.AppendTask(context.Background(), task)
	if err != nil {
		t.Fatalf("append %q: %v", task.Title, err)
	}
	return created
}

func assertOrder(t *testing.T, store *Store, parentID *int64, want ...int64) {
	t.Helper()
	siblings, err := store.GetChildren(context.Background(), parentID)
	if err != nil {
		t.Fatalf("get children: %v", err)
	}
	if len(siblings) != len(want) {
		t.Fatalf("expected %d siblings, got %d", len(want), len(siblings))
	}
	for i, id := range want {
		if siblings[i].ID != id {
			t.Fatalf("position %d: expected task %d, got %d (%s)", i, id, siblings[i].ID, siblings[i].Title)
		}
	}
}

func assertNoDuplicates(t *testing.T, store *Store, parentID *int64) {
	t.Helper()
	siblings, err := store.GetChildren(context.Background(), parentID)
	if err != nil {
		t.Fatalf("get children: %v", err)
	}
	seen := map[int]int64{}
	for _, sibling := range siblings {
		if other, ok := seen[sibling.OrderInParent]; ok {
			t.Fatalf("tasks %d and %d share order %d", other, sibling.ID, sibling.OrderInParent)
		}
		seen[sibling.OrderInParent] = sibling.ID
	}
}

func assertConsecutive(t *testing.T, store *Store, parentID *int64, n int) {
	t.Helper()
	siblings, err := store.GetChildren(context.Background(), parentID)
	if err != nil {
		t.Fatalf("get children: %v", err)
	}
	if len(siblings) != n {
		t.Fatalf("expected %d siblings, got %d", n, len(siblings))
	}
	for i, sibling := range siblings {
		if sibling.OrderInParent != i {
			t.Fatalf("expected order %d at position %d, got %d", i, i, sibling.OrderInParent)
		}
	}
}

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return NewStore(db), func() {
		_ = db.Close()
	}
}
