package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a Redis mutex keyed by job name. It keeps a one-off run from
// the stats command from overlapping the queue worker.
type RunLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *observability.Logger
}

// NewRunLock creates a RunLock. A nil client yields a lock that always succeeds.
func NewRunLock(rdb *redis.Client, ttl time.Duration, logger *observability.Logger) *RunLock {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RunLock{rdb: rdb, ttl: ttl, prefix: "docmeter:joblock:", logger: logger}
}

// Acquire takes the lock for name. ok is false when another holder has it.
func (l *RunLock) Acquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	if l == nil || l.rdb == nil {
		return func() {}, true, nil
	}

	key := l.prefix + name
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
		switch {
		case err != nil:
			// the key still expires after ttl
			l.logger.WithError(err).WithField("lock", key).Error("Failed to release run lock")
		case deleted == 0:
			l.logger.WithField("lock", key).Warn("Run lock expired before release")
		}
	}
	return release, true, nil
}
