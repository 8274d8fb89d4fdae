package launcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/clipstream/backend/pkg/queue"
)

// QueueLauncher hands transcode work to long-lived workers via the Redis
// job queue. Used in deployments without ECS (local development, single
// host installs); the workers themselves run the same pipeline.
type QueueLauncher struct {
	queue *queue.Queue
}

// NewQueueLauncher creates a queue-backed launcher.
func NewQueueLauncher(q *queue.Queue) *QueueLauncher {
	return &QueueLauncher{queue: q}
}

// LaunchTranscode enqueues one transcode job.
func (l *QueueLauncher) LaunchTranscode(ctx context.Context, userID uuid.UUID, storageKey string) error {
	return l.queue.EnqueueTranscode(ctx, queue.TranscodePayload{
		UserID:     userID,
		StorageKey: storageKey,
	})
}
