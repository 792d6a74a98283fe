package syncer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/model"
)

const DefaultChannel = "tasks.updates"

// Redis confirms a task by storing it under task:<id> and publishing it on
// Channel in one MULTI/EXEC. Any Redis error counts as not confirmed.
type Redis struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	logger  *log.Logger
}

func NewRedis(client *redis.Client, channel string, ttl time.Duration, logger *log.Logger) *Redis {
	if client == nil {
		panic("syncer.NewRedis: client is nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Redis{client: client, channel: channel, ttl: ttl, logger: logger}
}

// NewRedisFromURL accepts redis:// URLs and bare host:port addresses.
func NewRedisFromURL(url, channel string, ttl time.Duration, logger *log.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		if url == "" {
			return nil, fmt.Errorf("redis url is required")
		}
		opts = &redis.Options{Addr: url}
	}
	return NewRedis(redis.NewClient(opts), channel, ttl, logger), nil
}

func Key(id int64) string {
	return "task:" + strconv.FormatInt(id, 10)
}

func (r *Redis) Confirm(ctx context.Context, task model.Task) (bool, error) {
	payload, err := sonic.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("encode task %d: %w", task.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(task.ID), payload, r.ttl)
		pipe.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).WithField("task_id", task.ID).Warn("redis sync failed")
		return false, err
	}
	return true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
