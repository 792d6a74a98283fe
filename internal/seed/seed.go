package seed

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/model"
)

// FlagKey is the meta key recording that the bundled dataset was loaded.
const FlagKey = "seeded"

//go:embed seed.json
var bundled []byte

type record struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	CreatedAtISO string  `json:"createdAtIso"`
	Notes        *string `json:"notes"`
	Status       string  `json:"status"`
	ParentID     *int64  `json:"parentId"`
}

type Seeder struct {
	Store  *db.Store
	Logger *log.Logger
	Data   []byte
	Now    func() time.Time
}

func New(store *db.Store, logger *log.Logger) *Seeder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Seeder{Store: store, Logger: logger, Data: bundled, Now: time.Now}
}

// Run loads the dataset once. It does nothing when the seed flag is set or
// the task table already has rows, so repeated runs never duplicate tasks.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	flag, ok, err := s.Store.GetMeta(ctx, FlagKey)
	if err != nil {
		return 0, err
	}
	if ok && flag == "1" {
		s.Logger.Debug("seed already applied")
		return 0, nil
	}

	count, err := s.Store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.Logger.WithField("tasks", count).Info("task table not empty, skipping seed")
		return 0, s.Store.SetMeta(ctx, FlagKey, "1")
	}

	tasks, err := s.Tasks()
	if err != nil {
		return 0, err
	}
	inserted, err := s.Store.InsertBatch(ctx, tasks)
	if err != nil {
		return 0, fmt.Errorf("insert seed tasks: %w", err)
	}
	if err := s.Store.SetMeta(ctx, FlagKey, "1"); err != nil {
		return inserted, err
	}
	s.Logger.WithField("tasks", inserted).Info("seeded task store")
	return inserted, nil
}

// Tasks decodes the dataset, numbering each sibling group in file order.
func (s *Seeder) Tasks() ([]model.Task, error) {
	var records []record
	if err := sonic.Unmarshal(s.Data, &records); err != nil {
		return nil, fmt.Errorf("decode seed data: %w", err)
	}

	next := map[int64]int{}
	var rootNext int
	tasks := make([]model.Task, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Title) == "" {
			s.Logger.WithField("id", r.ID).Warn("seed record without title skipped")
			continue
		}

		createdAt, err := time.Parse(time.RFC3339, r.CreatedAtISO)
		if err != nil {
			s.Logger.WithFields(log.Fields{"id": r.ID, "createdAtIso": r.CreatedAtISO}).Warn("invalid seed timestamp, using now")
			createdAt = s.Now()
		}

		task := model.Task{
			ID:        r.ID,
			Title:     r.Title,
			Status:    model.ParseStatus(r.Status),
			Priority:  model.PriorityDefault,
			CreatedAt: createdAt.UTC(),
			ParentID:  r.ParentID,
		}
		if r.Notes != nil {
			task.Content = *r.Notes
		}
		if r.ParentID == nil {
			task.OrderInParent = rootNext
			rootNext++
		} else {
			task.OrderInParent = next[*r.ParentID]
			next[*r.ParentID]++
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
