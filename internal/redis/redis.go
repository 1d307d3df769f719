package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// Connect establishes a connection to Redis from a redis:// or rediss:// URL
func Connect(ctx context.Context, redisURL string, log logrus.FieldLogger) (redis.UniversalClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opt.Addr, err)
	}

	log.WithFields(logrus.Fields{"addr": opt.Addr, "db": opt.DB}).Info("Connected to Redis")
	return client, nil
}
