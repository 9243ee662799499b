package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// LockRepository hands out per-thesis single writer locks stored in Redis.
type LockRepository struct {
	client lockClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewLockRepository constructs a lock repository.
func NewLockRepository(client lockClient, ttl time.Duration, logger *zap.Logger) *LockRepository {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockRepository{client: client, ttl: ttl, logger: logger}
}

// ThesisLockKey is the Redis key guarding writes to one thesis.
func ThesisLockKey(thesisID int64) string {
	return fmt.Sprintf("etd:lock:thesis:%d", thesisID)
}

// Acquire takes the lock for thesisID. A held lock yields ErrLocked; the
// returned release func is safe to call more than once.
func (r *LockRepository) Acquire(ctx context.Context, thesisID int64) (func(), error) {
	key := ThesisLockKey(thesisID)
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrLocked, fmt.Sprintf("thesis %d is being processed", thesisID))
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release must survive a cancelled job context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Sugar().Warnw("failed to release thesis lock", "thesis_id", thesisID, "error", err)
		}
	}, nil
}
