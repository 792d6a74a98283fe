package chat

import (
	"context"
	"errors"

	"github.com/Joseda-hg/taskchat/internal/model"
)

var (
	ErrMissingCredential = errors.New("assistant credential missing or rejected")
	ErrTimeout           = errors.New("assistant request timed out")
	ErrHostUnresolvable  = errors.New("assistant host unreachable")
	ErrMalformedResponse = errors.New("assistant response malformed")
)

// Client sends one user message plus prior conversation to an assistant
// and returns its raw reply text.
type Client interface {
	Send(ctx context.Context, message string, history []model.ChatMessage) (string, error)
}

// TrimHistory keeps the last limit delivered messages. Failed and pending
// messages are never replayed to the model.
func TrimHistory(history []model.ChatMessage, limit int) []model.ChatMessage {
	sent := make([]model.ChatMessage, 0, len(history))
	for _, message := range history {
		if message.Status == model.MessageSent {
			sent = append(sent, message)
		}
	}
	if limit > 0 && len(sent) > limit {
		sent = sent[len(sent)-limit:]
	}
	return sent
}
