// Package redisstore implements the store contracts on Redis: one hash per session and pool,
// sorted sets for leaderboards, and Lua scripts wherever an invariant spans several keys.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

const (
	sessionKeyPrefix = "session:"
	activeSessions   = "sessions:active"
	usedNonces       = "nonces:used"
)

type base struct {
	rdb   redis.UniversalClient
	clock clockwork.Clock
	opts  store.Options
	log   logrus.FieldLogger
}

// New wires the Redis adapters over one client.
func New(rdb redis.UniversalClient, clock clockwork.Clock, opts store.Options, log logrus.FieldLogger) store.Stores {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &base{rdb: rdb, clock: clock, opts: opts.WithDefaults(), log: logger.Component(log, "redisstore")}
	return store.Stores{
		Sessions:    &SessionStore{b},
		Leaderboard: &LeaderboardStore{b},
		Pools:       &PrizePoolStore{b},
		Nonces:      &NonceStore{b},
		Ping:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Close:       rdb.Close,
	}
}

func (b *base) now() time.Time {
	return b.clock.Now().UTC().Truncate(time.Microsecond)
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func paymentKey(hash string) string {
	return sessionKeyPrefix + "payment:" + hash
}

func activePointerKey(gameType models.GameType, player string) string {
	return fmt.Sprintf("%splayer:%s:%s", sessionKeyPrefix, gameType, player)
}

func nonceKey(nonce string) string {
	return "nonce:used:" + nonce
}

func playerSessionsKey(player string) string {
	return "player:sessions:" + player
}

func boardKey(gameType models.GameType, periodType period.Type, periodDate string) string {
	return fmt.Sprintf("lb:%s:%s:%s", gameType, periodType, periodDate)
}

func poolKey(gameType models.GameType, periodType period.Type, periodDate string) string {
	return fmt.Sprintf("pool:%s:%s:%s", gameType, periodType, periodDate)
}

func poolIndexKey(gameType models.GameType, periodType period.Type) string {
	return fmt.Sprintf("pools:%s:%s", gameType, periodType)
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseMicros(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.UnixMicro(v).UTC(), nil
}

func optMicros(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseMicros(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return &v, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// pairsToMap turns a flat HGETALL reply returned from a script into a map.
func pairsToMap(reply []interface{}) map[string]string {
	m := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		m[k] = v
	}
	return m
}
