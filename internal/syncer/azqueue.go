package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/model"
)

const DefaultQueue = "task-updates"

const eventStatusChanged = "task-status-changed"

// statusEvent is the queue message body.
type statusEvent struct {
	Type string     `json:"type"`
	Task model.Task `json:"task"`
}

// AzureQueue confirms an update once it has been accepted by an Azure
// Storage queue.
type AzureQueue struct {
	queue  *azqueue.QueueClient
	logger *log.Logger
}

// NewAzureQueue connects with a storage connection string. maxRetries below
// zero disables retries.
func NewAzureQueue(connStr, queueName string, maxRetries int32, logger *log.Logger) (*AzureQueue, error) {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	options := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    maxRetries,
				TryTimeout:    time.Second * 5,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 2,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &options)
	if err != nil {
		return nil, fmt.Errorf("azure queue client: %w", err)
	}
	return &AzureQueue{queue: queue, logger: logger}, nil
}

func (a *AzureQueue) Confirm(ctx context.Context, task model.Task) (bool, error) {
	payload, err := sonic.Marshal(statusEvent{Type: eventStatusChanged, Task: task})
	if err != nil {
		return false, fmt.Errorf("encode task %d: %w", task.ID, err)
	}
	if _, err := a.queue.EnqueueMessage(ctx, string(payload), nil); err != nil {
		a.logger.WithError(err).WithField("task_id", task.ID).Warn("azure queue sync failed")
		return false, err
	}
	return true, nil
}
