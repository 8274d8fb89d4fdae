// Package admission bounds concurrent in-flight transcodes per user.
// The counted set lives in Redis so the limit holds across arbitrarily
// many server and worker processes.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLimit is the per-user ceiling on concurrent transcodes.
const DefaultLimit = 5

// ErrDenied is returned when a user already has the maximum number of
// transcodes in flight.
var ErrDenied = errors.New("transcode queue limit reached")

// tryAdmitScript performs the check-and-increment atomically so two
// concurrent admissions cannot both observe count == limit-1 and slip past
// the ceiling.
var tryAdmitScript = redis.NewScript(`
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// Gate admits or rejects transcode work against a shared Redis hash per
// user: field = storage key, value = enqueue timestamp.
type Gate struct {
	client *redis.Client
	limit  int
	logger *zap.Logger
}

// NewGate creates an admission gate. limit <= 0 falls back to DefaultLimit.
func NewGate(client *redis.Client, limit int, logger *zap.Logger) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{client: client, limit: limit, logger: logger}
}

func queueKey(userID string) string {
	return "transcode:queue:" + userID
}

// TryAdmit records (userID, storageKey) iff the user's live-entry count is
// strictly below the limit. Returns ErrDenied when the queue is full. Any
// store error also denies: an unreachable gate fails closed rather than
// allowing unbounded concurrent work.
func (g *Gate) TryAdmit(ctx context.Context, userID, storageKey string) error {
	ok, err := tryAdmitScript.Run(ctx, g.client, []string{queueKey(userID)},
		g.limit, storageKey, time.Now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("admission store: %w", err)
	}
	if ok != 1 {
		return ErrDenied
	}
	g.logger.Debug("admitted transcode",
		zap.String("user_id", userID),
		zap.String("storage_key", storageKey),
	)
	return nil
}

// Release removes the entry for storageKey. Releasing an entry that does
// not exist is a no-op, so completion paths may call it unconditionally.
func (g *Gate) Release(ctx context.Context, userID, storageKey string) error {
	if err := g.client.HDel(ctx, queueKey(userID), storageKey).Err(); err != nil {
		return fmt.Errorf("admission release: %w", err)
	}
	return nil
}

// Count returns the user's current live-entry count.
func (g *Gate) Count(ctx context.Context, userID string) (int, error) {
	n, err := g.client.HLen(ctx, queueKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("admission count: %w", err)
	}
	return int(n), nil
}
