package chat

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Joseda-hg/taskchat/internal/model"
)

var cannedReplies = []string{
	"```json\n{\"say\":\"Added it to your list.\",\"actions\":[{\"type\":\"add_task\",\"title\":\"Follow up on email\"}]}\n```",
	`{"say":"You're all caught up. Anything else?","actions":[]}`,
	"Sure, what would you like to add?",
	`{"say":"Marked as high priority.","actions":[{"type":"add_task","title":"Prepare slides","priority":"HIGH"}]}`,
}

// MockClient answers with canned envelopes after a simulated delay.
// Replies are used in turn, or at random when Random is set.
type MockClient struct {
	Replies []string
	Random  bool
	Latency time.Duration
	Err     error

	mu   sync.Mutex
	next int
}

func NewMockClient(latency time.Duration) *MockClient {
	return &MockClient{Replies: cannedReplies, Random: true, Latency: latency}
}

func (m *MockClient) Send(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ErrTimeout
		case <-timer.C:
		}
	}
	if m.Err != nil {
		return "", m.Err
	}

	replies := m.Replies
	if len(replies) == 0 {
		replies = cannedReplies
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Random {
		return replies[rand.IntN(len(replies))], nil
	}
	reply := replies[m.next%len(replies)]
	m.next++
	return reply, nil
}
