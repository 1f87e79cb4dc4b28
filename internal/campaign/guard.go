package campaign

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"appointment-confirmer/pkg/utils"
)

// Guard caps the number of calls in flight at once. A nil Guard in the
// scheduler means no cap.
type Guard interface {
	// Acquire claims a slot, reporting false when the cap is reached.
	Acquire(ctx context.Context) (bool, error)
	// Release returns a slot after the call reaches a terminal state.
	Release(ctx context.Context) error
}

const (
	activeCallsKey = "campaign:active_calls"
	// Slot TTL covers the longest plausible call plus margin, so a crash
	// mid-call cannot pin a slot forever.
	activeCallTTL = 30 * time.Minute
)

// RedisGuard enforces the concurrent-call cap through Redis, so the cap
// holds across multiple instances sharing one telephony account.
type RedisGuard struct {
	rdb   *redis.Client
	limit int
}

func NewRedisGuard(rdb *redis.Client, limit int) *RedisGuard {
	return &RedisGuard{rdb: rdb, limit: limit}
}

func (g *RedisGuard) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireCallSlot(ctx, g.rdb, activeCallsKey, g.limit, activeCallTTL)
}

func (g *RedisGuard) Release(ctx context.Context) error {
	return utils.ReleaseCallSlot(ctx, g.rdb, activeCallsKey)
}
