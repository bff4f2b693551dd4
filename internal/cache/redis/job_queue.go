package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

// Key schema:
//
//	{prefix}:jobs:due       - ZSET job id -> run-at (unix ms)
//	{prefix}:jobs:inflight  - ZSET job id -> lease deadline (unix ms)
//	{prefix}:jobs:data      - HASH job id -> JSON
//	{prefix}:jobs:dead      - STREAM of dead-lettered jobs

// scheduleLua stores the job only when its id is not already known.
// KEYS = data, due. ARGV = id, json, runAt.
const scheduleLua = `
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`

// claimLua requeues expired leases, then moves up to n due jobs in flight.
// KEYS = due, inflight, data. ARGV = now, n, leaseUntil.
const claimLua = `
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local data = redis.call('HGET', KEYS[3], id)
  if data then
    redis.call('ZADD', KEYS[2], ARGV[3], id)
    table.insert(out, data)
  end
end
return out
`

// JobQueue is the durable scheduler backend. A claimed job is leased for
// the visibility timeout; if the worker dies before Ack the job becomes due
// again.
type JobQueue struct {
	rdb      *redis.Client
	due      string
	inflight string
	data     string
	dead     string
	lease    time.Duration
	maxDead  int64
	schedule *redis.Script
	claim    *redis.Script
}

// JobQueueConfig tunes the queue.
type JobQueueConfig struct {
	Lease         time.Duration
	DeadLetterMax int64
}

// NewJobQueue creates a JobQueue backed by the given Client.
func NewJobQueue(c *Client, cfg JobQueueConfig) *JobQueue {
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.DeadLetterMax <= 0 {
		cfg.DeadLetterMax = 10000
	}
	return &JobQueue{
		rdb:      c.Underlying(),
		due:      c.Key("jobs:due"),
		inflight: c.Key("jobs:inflight"),
		data:     c.Key("jobs:data"),
		dead:     c.Key("jobs:dead"),
		lease:    cfg.Lease,
		maxDead:  cfg.DeadLetterMax,
		schedule: redis.NewScript(scheduleLua),
		claim:    redis.NewScript(claimLua),
	}
}

// Schedule enqueues job to become due after delay. A job id that is already
// queued or in flight is left alone.
func (q *JobQueue) Schedule(ctx context.Context, job scheduler.Job, delay time.Duration) error {
	job.RunAt = time.Now().Add(delay)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.ID, err)
	}
	err = q.schedule.Run(ctx, q.rdb, []string{q.data, q.due}, job.ID, data, job.RunAt.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis: schedule job %s: %w", job.ID, err)
	}
	return nil
}

// Claim leases up to n jobs due at or before now.
func (q *JobQueue) Claim(ctx context.Context, now time.Time, n int) ([]scheduler.Job, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.claim.Run(ctx, q.rdb,
		[]string{q.due, q.inflight, q.data},
		now.UnixMilli(), n, now.Add(q.lease).UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis: claim jobs: %w", err)
	}
	jobs := make([]scheduler.Job, 0, len(raw))
	for _, s := range raw {
		var job scheduler.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return jobs, fmt.Errorf("redis: unmarshal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a finished job.
func (q *JobQueue) Ack(ctx context.Context, job scheduler.Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.inflight, job.ID)
	pipe.ZRem(ctx, q.due, job.ID)
	pipe.HDel(ctx, q.data, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: ack job %s: %w", job.ID, err)
	}
	return nil
}

// DeadLetter appends job and reason to the dead-letter stream, then removes
// the job from the queue.
func (q *JobQueue) DeadLetter(ctx context.Context, job scheduler.Job, reason string) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dead,
		MaxLen: q.maxDead,
		Approx: true,
		Values: map[string]any{
			"id":       job.ID,
			"kind":     string(job.Kind),
			"intentId": job.IntentID,
			"attempt":  strconv.Itoa(job.Attempt),
			"reason":   reason,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: dead-letter job %s: %w", job.ID, err)
	}
	return q.Ack(ctx, job)
}

// Depth returns the number of queued and in-flight jobs.
func (q *JobQueue) Depth(ctx context.Context) (due, inflight int64, err error) {
	pipe := q.rdb.Pipeline()
	d := pipe.ZCard(ctx, q.due)
	f := pipe.ZCard(ctx, q.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis: queue depth: %w", err)
	}
	return d.Val(), f.Val(), nil
}

var _ scheduler.Queue = (*JobQueue)(nil)
