// Package queue is a Redis-list job queue used when transcode workers run
// as long-lived consumers instead of per-asset cloud tasks.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueTranscodes is the Redis list key for transcode jobs.
	QueueTranscodes = "worker:transcodes"
	// QueueDLQ holds jobs that failed; transcode runs are at-most-once,
	// so a failed job goes straight here for operator inspection.
	QueueDLQ = "worker:dlq"
	// PollTimeout bounds each blocking pop so the consumer loop can
	// observe context cancellation.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

// JobTypeTranscode runs the full pipeline for one uploaded asset.
const JobTypeTranscode JobType = "transcode"

// TranscodePayload is the payload for transcode jobs.
type TranscodePayload struct {
	UserID     uuid.UUID `json:"user_id"`
	StorageKey string    `json:"storage_key"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
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

// EnqueueTranscode enqueues a transcode job.
func (q *Queue) EnqueueTranscode(ctx context.Context, payload TranscodePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeTranscode,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueTranscodes, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued transcode job",
		zap.String("job_id", job.ID),
		zap.String("storage_key", payload.StorageKey),
	)
	return nil
}

// Dequeue blocks up to PollTimeout for a job. Returns (nil, nil) when the
// wait timed out without work.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueTranscodes).Result()
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
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Fail records a job in the dead-letter queue. Transcode jobs are never
// re-run automatically; the pipeline has already marked the asset failed.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ",
		zap.String("job_id", job.ID),
		zap.NamedError("cause", cause),
	)
	return nil
}
