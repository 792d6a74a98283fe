package syncer

import (
	"context"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/model"
)

// Simulated stands in for a sync backend: it waits Delay and then accepts
// the task unless FailWhen or FailureRate reject it.
type Simulated struct {
	Delay       time.Duration
	FailureRate float64
	FailWhen    func(model.Task) bool
	Logger      *log.Logger
}

func (s *Simulated) Confirm(ctx context.Context, task model.Task) (bool, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	rejected := s.FailWhen != nil && s.FailWhen(task)
	if !rejected && s.FailureRate > 0 {
		rejected = rand.Float64() < s.FailureRate
	}
	if rejected && s.Logger != nil {
		s.Logger.WithField("task_id", task.ID).Info("simulated sync rejected task update")
	}
	return !rejected, nil
}
