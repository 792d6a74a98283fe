package syncer

import (
	"context"

	"github.com/Joseda-hg/taskchat/internal/model"
)

// Confirmer acknowledges a locally written task with a remote service.
// false or an error means the change was not accepted.
type Confirmer interface {
	Confirm(ctx context.Context, task model.Task) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, task model.Task) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, task model.Task) (bool, error) {
	return f(ctx, task)
}
