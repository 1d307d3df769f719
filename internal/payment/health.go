package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	healthKey = "facilitator:health"
	healthTTL = 60 * time.Second
)

// HealthChecker periodically checks the facilitator and caches the result in Redis.
type HealthChecker struct {
	client *Client
	rdb    redis.UniversalClient
	clock  clockwork.Clock
	log    logrus.FieldLogger
}

func NewHealthChecker(client *Client, rdb redis.UniversalClient, clock clockwork.Clock) *HealthChecker {
	return &HealthChecker{client: client, rdb: rdb, clock: clock, log: client.log}
}

// Run checks once immediately and then on every interval until ctx is done.
// The interval is never shorter than the client timeout.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	if floor := h.client.Timeout(); interval < floor {
		interval = floor
	}
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	h.log.WithField("interval", interval).Info("Starting facilitator health checker")

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("Facilitator health checker stopped")
			return
		case <-ticker.Chan():
			h.Check(ctx)
		}
	}
}

// Check calls the facilitator and stores the outcome.
func (h *HealthChecker) Check(ctx context.Context) Health {
	latency, err := h.client.Supported(ctx)
	health := Health{
		Healthy:   err == nil,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: h.clock.Now().UTC(),
	}
	if err != nil {
		health.Error = err.Error()
		h.log.WithError(err).Warn("Facilitator health check failed")
	}

	raw, merr := json.Marshal(health)
	if merr == nil {
		if serr := h.rdb.Set(ctx, healthKey, raw, healthTTL).Err(); serr != nil {
			h.log.WithError(serr).Warn("Failed to cache facilitator health")
		}
	}
	return health
}

// Cached returns the last stored check, or nil when none is fresh.
func (h *HealthChecker) Cached(ctx context.Context) (*Health, error) {
	raw, err := h.rdb.Get(ctx, healthKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read facilitator health: %w", err)
	}
	var health Health
	if err := json.Unmarshal(raw, &health); err != nil {
		return nil, fmt.Errorf("invalid cached facilitator health: %w", err)
	}
	return &health, nil
}
