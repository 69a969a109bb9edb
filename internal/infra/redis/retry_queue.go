package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryQueue is a sorted set of document source paths scored by the
// unix time their backoff window elapses.
type RetryQueue struct {
	rdb      *redis.Client
	pipeline string
}

// NewRetryQueue creates a retry queue scoped to one pipeline name.
func NewRetryQueue(client *Client, pipeline string) *RetryQueue {
	return &RetryQueue{rdb: client.rdb, pipeline: pipeline}
}

func (q *RetryQueue) key() string {
	return fmt.Sprintf("retry_due:%s", q.pipeline)
}

// Push parks a document until eligibleAt. Re-pushing updates the score.
func (q *RetryQueue) Push(ctx context.Context, sourcePath string, eligibleAt time.Time) error {
	err := q.rdb.ZAdd(ctx, q.key(), redis.Z{
		Score:  float64(eligibleAt.Unix()),
		Member: sourcePath,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopDue removes and returns up to max paths whose backoff has elapsed.
func (q *RetryQueue) PopDue(ctx context.Context, now time.Time, max int64) ([]string, error) {
	paths, err := q.rdb.ZRangeByScore(ctx, q.key(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(paths))
	for i, p := range paths {
		members[i] = p
	}
	if err := q.rdb.ZRem(ctx, q.key(), members...).Err(); err != nil {
		return nil, fmt.Errorf("zrem failed: %w", err)
	}
	return paths, nil
}

// Remove drops a document from the queue, e.g. after it succeeded
// through an ordinary sweep.
func (q *RetryQueue) Remove(ctx context.Context, sourcePath string) error {
	return q.rdb.ZRem(ctx, q.key(), sourcePath).Err()
}

// Size returns the number of parked documents.
func (q *RetryQueue) Size(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key()).Result()
}
