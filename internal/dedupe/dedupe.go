// Package dedupe drops replayed webhook deliveries by message id. WAHA
// retries webhooks on slow acks, so the same message can arrive twice.
package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "wa:msg:"
	defaultTTL = 10 * time.Minute
)

// Deduper remembers recently seen message ids in redis. A nil client
// disables deduplication rather than failing the pipeline.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, ttl: defaultTTL, logger: logger}
}

// FirstSeen reports whether this is the first delivery of the message.
// Redis errors count as first-seen: an occasional duplicate reply beats
// silently dropping real messages during an outage.
func (d *Deduper) FirstSeen(ctx context.Context, messageID string) bool {
	if d == nil || d.rdb == nil || messageID == "" {
		return true
	}
	ok, err := d.rdb.SetNX(ctx, keyPrefix+messageID, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedupe_unavailable", zap.Error(err))
		return true
	}
	return ok
}
