package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Joseda-hg/taskchat/internal/model"
)

func TestSimulatedConfirmsAfterDelay(t *testing.T) {
	sim := &Simulated{Delay: 10 * time.Millisecond}
	start := time.Now()
	ok, err := sim.Confirm(context.Background(), model.Task{ID: 1})
	if err != nil || !ok {
		t.Fatalf("expected confirmation, got ok=%v err=%v", ok, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected confirm to wait for the delay")
	}
}

func TestSimulatedRejectsWhenConfigured(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sim := &Simulated{FailWhen: func(task model.Task) bool { return task.ID == 2 }, Logger: logger}

	if ok, _ := sim.Confirm(context.Background(), model.Task{ID: 1}); !ok {
		t.Fatalf("expected task 1 to be confirmed")
	}
	if ok, _ := sim.Confirm(context.Background(), model.Task{ID: 2}); ok {
		t.Fatalf("expected task 2 to be rejected")
	}
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected one log entry, got %d", len(hook.AllEntries()))
	}

	always := &Simulated{FailureRate: 1}
	if ok, _ := always.Confirm(context.Background(), model.Task{ID: 3}); ok {
		t.Fatalf("expected failure rate 1 to reject")
	}
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := (&Simulated{Delay: time.Hour}).Confirm(ctx, model.Task{ID: 1})
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStoresAndPublishes(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	logger, _ := test.NewNullLogger()
	confirmer := NewRedis(client, "", 0, logger)
	task := model.Task{ID: 77, Title: "Sync me", Status: model.StatusDone, Priority: model.PriorityDefault}

	ok, err := confirmer.Confirm(ctx, task)
	if err != nil || !ok {
		t.Fatalf("expected confirmation, got ok=%v err=%v", ok, err)
	}

	stored, err := mr.Get(Key(77))
	if err != nil {
		t.Fatalf("get stored task: %v", err)
	}
	var decoded model.Task
	if err := sonic.UnmarshalString(stored, &decoded); err != nil {
		t.Fatalf("decode stored task: %v", err)
	}
	if decoded.Title != task.Title || decoded.Status != model.StatusDone {
		t.Fatalf("unexpected stored task %+v", decoded)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != stored {
			t.Fatalf("expected published payload to match stored value")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a published update")
	}
}

func TestRedisErrorMeansNotConfirmed(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.SetError("READONLY replica")

	logger, hook := test.NewNullLogger()
	ok, err := NewRedis(client, "", time.Minute, logger).Confirm(context.Background(), model.Task{ID: 5, Title: "x"})
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected failure to be logged")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
