package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmailJob is one outbound email waiting for delivery.
type EmailJob struct {
	NotificationID string `json:"notification_id,omitempty"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Retries        int    `json:"retries,omitempty"`
}

// RedisQueue is a FIFO list of email jobs shared by all API replicas.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue on key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Enqueue appends job to the tail.
func (q *RedisQueue) Enqueue(ctx context.Context, job EmailJob) error {
	if q == nil || q.client == nil {
		return errors.New("email queue not configured")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, payload).Err()
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when the
// wait elapses with the list empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*EmailJob, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var job EmailJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Len reports the backlog size.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
