package seed

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
)

func TestRunTwiceDoesNotDuplicate(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	seeder := newTestSeeder(store)

	first, err := seeder.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first == 0 {
		t.Fatalf("expected bundled tasks to be inserted")
	}

	second, err := seeder.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected second run to insert nothing, got %d", second)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != first {
		t.Fatalf("expected %d tasks, got %d", first, count)
	}
}

func TestRunSkipsNonEmptyStoreAndSetsFlag(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	if _, err := store.AppendTask(context.Background(), model.Task{Title: "Existing"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	inserted, err := newTestSeeder(store).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected no inserts into non-empty store, got %d", inserted)
	}
	flag, ok, err := store.GetMeta(context.Background(), FlagKey)
	if err != nil || !ok || flag != "1" {
		t.Fatalf("expected seed flag set, got %q ok=%v err=%v", flag, ok, err)
	}
}

func TestRunRespectsFlagAfterTableEmptied(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	if err := store.SetMeta(context.Background(), FlagKey, "1"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	inserted, err := newTestSeeder(store).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected flag to block seeding, got %d", inserted)
	}
}

func TestTasksNumberSiblingGroupsInFileOrder(t *testing.T) {
	seeder := newTestSeeder(nil)
	seeder.Data = []byte(`[
		{"id": 1, "title": "Root A", "createdAtIso": "2025-01-01T00:00:00Z", "status": "OPEN"},
		{"id": 2, "title": "Child 1", "createdAtIso": "2025-01-01T00:01:00Z", "status": "DONE", "parentId": 1},
		{"id": 3, "title": "Root B", "createdAtIso": "2025-01-01T00:02:00Z", "status": "OPEN", "notes": "n"},
		{"id": 4, "title": "Child 2", "createdAtIso": "bad", "status": "completed", "parentId": 1},
		{"id": 5, "title": "", "createdAtIso": "2025-01-01T00:03:00Z", "status": "OPEN"}
	]`)

	tasks, err := seeder.Tasks()
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(tasks))
	}

	want := map[int64]int{1: 0, 2: 0, 3: 1, 4: 1}
	for _, task := range tasks {
		if task.OrderInParent != want[task.ID] {
			t.Fatalf("task %d: expected order %d, got %d", task.ID, want[task.ID], task.OrderInParent)
		}
	}
	if tasks[2].Content != "n" {
		t.Fatalf("expected notes to map to content, got %q", tasks[2].Content)
	}
	if tasks[3].Status != model.StatusDone {
		t.Fatalf("expected completed to parse as DONE, got %s", tasks[3].Status)
	}
}

func TestBundledDatasetKeepsHierarchy(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	if _, err := newTestSeeder(store).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	parent := int64(1001)
	children, err := store.GetChildren(context.Background(), &parent)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children of 1001, got %d", len(children))
	}
	for i, child := range children {
		if child.OrderInParent != i {
			t.Fatalf("expected consecutive orders, got %d at %d", child.OrderInParent, i)
		}
	}
}

func newTestSeeder(store *db.Store) *Seeder {
	logger, _ := test.NewNullLogger()
	return New(store, logger)
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
