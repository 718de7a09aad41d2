package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scoreKeyPrefix namespaces the sorted sets backing each lane so a shared
// Redis instance can host more than one deployment.
const scoreKeyPrefix = "agentpipe:queue"

// RedisQueue provides FIFO-within-priority ordering over two sorted sets,
// one per lane. Jobs are always popped from the premium lane first; a
// premium lane holding any job starves the regular lane until it drains.
//
// Redis is the live ordering source. The Postgres QueueJob row stays the
// system of record: if Redis is flushed or restarted empty, StartupRequeue
// rebuilds the sorted sets from rows still in the "waiting" or "active"
// state.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func laneKey(lane Lane) string {
	return fmt.Sprintf("%s:%s", scoreKeyPrefix, lane)
}

// score encodes priority (descending) and enqueue order (ascending, FIFO
// within the same priority) into a single float64 sortable by ZRANGE.
// Higher priority must sort first, so priority is negated.
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(-priority)*1e15 + float64(enqueuedAt.UnixNano())/1e9
}

// Enqueue adds a job id to its lane's sorted set.
func (q *RedisQueue) Enqueue(ctx context.Context, lane Lane, jobID string, priority int, enqueuedAt time.Time) error {
	return q.client.ZAdd(ctx, laneKey(lane), redis.Z{
		Score:  score(priority, enqueuedAt),
		Member: jobID,
	}).Err()
}

// EnqueueHead pushes a job id to the very front of its lane, used when
// crash recovery re-admits an interrupted job ahead of fresh arrivals.
func (q *RedisQueue) EnqueueHead(ctx context.Context, lane Lane, jobID string) error {
	return q.client.ZAdd(ctx, laneKey(lane), redis.Z{
		Score:  -1e18,
		Member: jobID,
	}).Err()
}

// Dequeue pops the single highest-priority, oldest job id across both
// lanes, checking premium before regular. Returns ErrNoJobsAvailable if
// both lanes are empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (Lane, string, error) {
	for _, lane := range []Lane{LanePremium, LaneRegular} {
		result, err := q.client.ZPopMin(ctx, laneKey(lane), 1).Result()
		if err != nil {
			return "", "", fmt.Errorf("popping %s lane: %w", lane, err)
		}
		if len(result) == 0 {
			continue
		}
		jobID, ok := result[0].Member.(string)
		if !ok {
			return "", "", fmt.Errorf("unexpected member type in %s lane", lane)
		}
		return lane, jobID, nil
	}
	return "", "", ErrNoJobsAvailable
}

// Remove discards a job id from a lane without dequeuing it, used when a
// job is cancelled while still waiting.
func (q *RedisQueue) Remove(ctx context.Context, lane Lane, jobID string) error {
	return q.client.ZRem(ctx, laneKey(lane), jobID).Err()
}

// Depth returns the number of waiting jobs across both lanes.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	total := 0
	for _, lane := range []Lane{LaneRegular, LanePremium} {
		n, err := q.LaneDepth(ctx, lane)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// LaneDepth returns the number of waiting jobs in a single lane.
func (q *RedisQueue) LaneDepth(ctx context.Context, lane Lane) (int, error) {
	n, err := q.client.ZCard(ctx, laneKey(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting %s lane: %w", lane, err)
	}
	return int(n), nil
}
