package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	exportMaxRetry = 5
	exportTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueExportImage uses the job ID as the task ID so a retried request
// cannot enqueue the same export twice.
func (c *Client) EnqueueExportImage(ctx context.Context, payload ExportImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewExportImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(exportMaxRetry),
		asynq.Timeout(exportTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
