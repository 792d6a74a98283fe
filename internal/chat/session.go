package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/model"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotFailed       = errors.New("message has not failed")
)

const pendingText = "…"

type Executor interface {
	Execute(ctx context.Context, actions []assistant.Action) []assistant.Result
}

// Turn is one exchange: the user's message, the assistant's reply and the
// outcome of any actions the reply carried.
type Turn struct {
	User    model.ChatMessage  `json:"user"`
	Reply   model.ChatMessage  `json:"reply"`
	Results []assistant.Result `json:"results"`
}

// Session keeps the in-memory conversation. Messages are updated in place
// by id as replies arrive or fail.
type Session struct {
	client   Client
	executor Executor
	parser   assistant.Parser
	logger   *log.Logger
	tracer   trace.Tracer

	Now   func() time.Time
	NewID func() string

	mu        sync.Mutex
	messages  []model.ChatMessage
	listeners map[int]chan struct{}
	nextID    int
}

func NewSession(client Client, executor Executor, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		client:    client,
		executor:  executor,
		parser:    assistant.Parser{Logger: logger},
		logger:    logger,
		tracer:    otel.Tracer("github.com/Joseda-hg/taskchat/internal/chat"),
		Now:       time.Now,
		NewID:     uuid.NewString,
		listeners: make(map[int]chan struct{}),
	}
}

// Send appends the user message and a pending reply, asks the assistant
// and applies the actions it returns. A transport failure marks both
// messages Failed; nothing is retried automatically.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	now := s.Now()
	user := model.ChatMessage{ID: s.NewID(), Sender: model.SenderUser, Text: text, Timestamp: now, Status: model.MessageSending}
	reply := model.ChatMessage{ID: s.NewID(), Sender: model.SenderAssistant, Text: pendingText, Timestamp: now, Status: model.MessageSending, ReplyToID: &user.ID}

	s.mu.Lock()
	history := append([]model.ChatMessage(nil), s.messages...)
	s.messages = append(s.messages, user, reply)
	s.mu.Unlock()
	s.notify()

	return s.complete(ctx, user, reply.ID, history)
}

// Resend re-issues a failed user message, reusing its reply slot.
func (s *Session) Resend(ctx context.Context, messageID string) (Turn, error) {
	s.mu.Lock()
	index := s.indexOf(messageID)
	if index < 0 || s.messages[index].Sender != model.SenderUser {
		s.mu.Unlock()
		return Turn{}, fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
	}
	user := s.messages[index]
	if user.Status != model.MessageFailed {
		s.mu.Unlock()
		return Turn{}, fmt.Errorf("%s: %w", messageID, ErrNotFailed)
	}

	history := append([]model.ChatMessage(nil), s.messages[:index]...)
	user.Status = model.MessageSending
	s.messages[index] = user

	replyID := ""
	for i := range s.messages {
		if s.messages[i].ReplyToID != nil && *s.messages[i].ReplyToID == messageID {
			s.messages[i].Status = model.MessageSending
			s.messages[i].Text = pendingText
			replyID = s.messages[i].ID
			break
		}
	}
	if replyID == "" {
		reply := model.ChatMessage{ID: s.NewID(), Sender: model.SenderAssistant, Text: pendingText, Timestamp: s.Now(), Status: model.MessageSending, ReplyToID: &user.ID}
		s.messages = append(s.messages, reply)
		replyID = reply.ID
	}
	s.mu.Unlock()
	s.notify()

	return s.complete(ctx, user, replyID, history)
}

func (s *Session) complete(ctx context.Context, user model.ChatMessage, replyID string, history []model.ChatMessage) (Turn, error) {
	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("message.id", user.ID),
		attribute.Int("history.length", len(history)),
	))
	defer span.End()

	raw, err := s.client.Send(ctx, user.Text, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assistant request failed")
		s.logger.WithError(err).WithField("message_id", user.ID).Warn("assistant request failed")

		turn := s.finish(user.ID, model.MessageFailed, replyID, model.MessageFailed, failureText(err))
		return turn, err
	}

	envelope := s.parser.Parse(raw)
	results := s.executor.Execute(ctx, envelope.Actions)
	span.SetAttributes(attribute.Int("actions.count", len(envelope.Actions)))

	text := ""
	if envelope.Say != nil {
		text = strings.TrimSpace(*envelope.Say)
	}
	if text == "" {
		text = assistant.Summarize(results)
	}

	turn := s.finish(user.ID, model.MessageSent, replyID, model.MessageSent, text)
	turn.Results = results
	return turn, nil
}

func (s *Session) finish(userID string, userStatus model.MessageStatus, replyID string, replyStatus model.MessageStatus, text string) Turn {
	var turn Turn
	s.mu.Lock()
	if i := s.indexOf(userID); i >= 0 {
		s.messages[i].Status = userStatus
		turn.User = s.messages[i]
	}
	if i := s.indexOf(replyID); i >= 0 {
		s.messages[i].Status = replyStatus
		s.messages[i].Text = text
		s.messages[i].Timestamp = s.Now()
		turn.Reply = s.messages[i]
	}
	s.mu.Unlock()
	s.notify()
	return turn
}

func failureText(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "The assistant needs a valid API key."
	case errors.Is(err, ErrTimeout):
		return "The assistant took too long to answer."
	case errors.Is(err, ErrHostUnresolvable):
		return "Couldn't reach the assistant."
	case errors.Is(err, ErrMalformedResponse):
		return "The assistant sent an unreadable reply."
	}
	return "Something went wrong talking to the assistant."
}

func (s *Session) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the conversation in order.
func (s *Session) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages...)
}

// Subscribe signals every conversation change. Call the returned func to stop.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
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

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
