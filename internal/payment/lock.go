package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/x402arcade/backend/internal/apperr"
)

const pendingKeyPrefix = "payment:pending:"

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// PendingLock stops the same authorization nonce from being settled twice at once.
type PendingLock struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewPendingLock(rdb redis.UniversalClient, ttl time.Duration) *PendingLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PendingLock{rdb: rdb, ttl: ttl}
}

// Acquire claims nonce until release is called or the TTL lapses.
func (l *PendingLock) Acquire(ctx context.Context, nonce string) (release func(), err error) {
	key := pendingKeyPrefix + strings.ToLower(nonce)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pending payment lock: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict(apperr.CodePaymentPending, "payment %s is already being settled", nonce)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, nil
}
