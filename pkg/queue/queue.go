package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueMigrations is the Redis list key for recording migration tasks.
	QueueMigrations = "worker:migrations"
	// QueueMigrationsDelayed is the zset of tasks scheduled for later retry
	// (score = unix time the task becomes due).
	QueueMigrationsDelayed = "worker:migrations:delayed"
	// QueueDLQ holds payloads that could not be parsed or re-enqueued.
	QueueDLQ = "worker:dlq"

	// dequeueBlock bounds BLPOP so the delayed-promotion pass keeps running.
	dequeueBlock = 5 * time.Second
	// promoteBatch caps how many due tasks are promoted per pass.
	promoteBatch = 100
)

// JobType identifies the job kind.
type JobType string

// JobTypeMigration is a recording migration task.
const JobTypeMigration JobType = "recording_migration"

// MigrationPayload references the registry entry a task should migrate.
type MigrationPayload struct {
	EntryID   uuid.UUID `json:"entry_id"`
	SessionID string    `json:"session_id"`
}

// Job is a generic job envelope. Attempt counts completed migration attempts;
// the retry ceiling itself lives in the worker's policy, not here.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueMigration enqueues a migration task for immediate execution.
func (q *Queue) EnqueueMigration(ctx context.Context, payload MigrationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeMigration,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueMigrations, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued migration task",
		zap.String("job_id", job.ID), zap.String("entry_id", payload.EntryID.String()))
	return nil
}

// Retry schedules the job to run again after delay, incrementing its attempt
// counter. The caller decides whether a retry is still allowed.
func (q *Queue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, QueueMigrationsDelayed, redis.Z{Score: due, Member: raw}).Err(); err != nil {
		return fmt.Errorf("zadd delayed: %w", err)
	}
	q.logger.Info("job scheduled for retry",
		zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Duration("delay", delay))
	return nil
}

// PushDLQ stores a raw payload that could not be processed at all.
func (q *Queue) PushDLQ(ctx context.Context, raw []byte) error {
	return q.client.RPush(ctx, QueueDLQ, raw).Err()
}

// Dequeue promotes due delayed jobs, then blocks briefly for the next ready
// job. Returns nil when nothing is available before the block times out.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.logger.Warn("promote delayed jobs failed", zap.Error(err))
	}
	result, err := q.client.BLPop(ctx, dequeueBlock, QueueMigrations).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload, moving to DLQ", zap.Error(err))
		_ = q.PushDLQ(ctx, []byte(result[1]))
		return nil, nil
	}
	return &job, nil
}

// promoteDue moves jobs whose due time has passed from the delayed zset onto
// the ready list. ZRem-then-RPush keeps a job from being promoted twice when
// several workers race on the same member.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.client.ZRangeByScore(ctx, QueueMigrationsDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: promoteBatch,
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, QueueMigrationsDelayed, m).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		if err := q.client.RPush(ctx, QueueMigrations, m).Err(); err != nil {
			return err
		}
	}
	return nil
}
