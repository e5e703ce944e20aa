package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a sorted-set backed queue. Pending jobs live in <name>
// scored by enqueue time; leased jobs move to <name>:leased scored by
// their visibility deadline, and Reclaim moves expired leases back.
type RedisQueue struct {
	client      *redis.Client
	name        string
	leaseWindow time.Duration
}

func NewRedisQueue(client *redis.Client, name string, leaseWindow time.Duration) *RedisQueue {
	return &RedisQueue{
		client:      client,
		name:        name,
		leaseWindow: leaseWindow,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.name, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Lease(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BZPopMin(ctx, timeout, q.name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	raw, ok := result.Member.(string)
	if !ok {
		return nil, errors.New("invalid member from queue")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	deadline := float64(time.Now().Add(q.leaseWindow).Unix())
	err = q.client.ZAdd(ctx, q.leasedKey(), redis.Z{Score: deadline, Member: raw}).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to record lease: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	members, err := q.client.ZRange(ctx, q.leasedKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list leased jobs: %w", err)
	}

	for _, raw := range members {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.ID == jobID {
			return q.client.ZRem(ctx, q.leasedKey(), raw).Err()
		}
	}
	return nil
}

// Reclaim moves jobs whose lease deadline has passed back onto the pending
// queue so another worker picks them up.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, q.leasedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan leases: %w", err)
	}

	for _, raw := range expired {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.leasedKey(), raw)
		pipe.ZAdd(ctx, q.name, redis.Z{Score: float64(time.Now().Unix()), Member: raw})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to requeue expired lease: %w", err)
		}
	}

	return len(expired), nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.name).Result()
}

func (q *RedisQueue) leasedKey() string {
	return q.name + ":leased"
}
