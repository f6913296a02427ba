// Package queue carries refresh jobs from the scheduler to the worker
// pool. The Redis implementation is a plain list with blocking pops,
// which gives at-least-once delivery; replays are safe because the
// diff engine short-circuits unchanged snapshots.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"warship-tracker/internal/domain"
)

// ErrEmpty is returned by Dequeue when no job arrived within the
// blocking window.
var ErrEmpty = errors.New("queue: no job available")

type Queue interface {
	Enqueue(ctx context.Context, job domain.RefreshJob) error
	Dequeue(ctx context.Context) (domain.RefreshJob, error)
}

// RedisQueue is a named Redis list.
type RedisQueue struct {
	client  *redis.Client
	name    string
	popWait time.Duration
	logger  zerolog.Logger
}

func NewRedisQueue(client *redis.Client, name string, logger zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		client:  client,
		name:    name,
		popWait: 5 * time.Second,
		logger:  logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.RefreshJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (domain.RefreshJob, error) {
	var job domain.RefreshJob
	result, err := q.client.BRPop(ctx, q.popWait, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return job, ErrEmpty
	}
	if err != nil {
		return job, err
	}
	// BRPop returns [key, value].
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn().Err(err).Str("queue", q.name).Msg("dropping malformed job payload")
		return job, ErrEmpty
	}
	return job, nil
}

// MemoryQueue is a buffered channel used by tests and single-process
// deployments.
type MemoryQueue struct {
	jobs chan domain.RefreshJob
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan domain.RefreshJob, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.RefreshJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (domain.RefreshJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.RefreshJob{}, ctx.Err()
	}
}

// Len reports the number of queued jobs; used by tests.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
