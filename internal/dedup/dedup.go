package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper suppresses concurrent and repeated deliveries of the same callback.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl, log: log}
}

func key(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

// AcquireOnce returns true the first time scope/id is seen within the TTL.
// When Redis is unavailable it returns true: the lifecycle operations are
// idempotent, so processing a duplicate is safe while dropping one is not.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	ok, err := d.rdb.SetNX(ctx, key(scope, id), 1, d.ttl).Result()
	if err != nil {
		d.log.Warn("dedup unavailable, processing anyway", zap.String("scope", scope), zap.Error(err))
		return true
	}
	return ok
}

// Release forgets scope/id so a failed delivery can be retried by the sender.
func (d *Deduper) Release(ctx context.Context, scope, id string) {
	if err := d.rdb.Del(ctx, key(scope, id)).Err(); err != nil {
		d.log.Warn("dedup release failed", zap.String("scope", scope), zap.Error(err))
	}
}
