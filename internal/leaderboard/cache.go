// Package leaderboard keeps recently read top-score tables in an LRU cache in front of the store.
package leaderboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

const (
	DefaultSize = 256
	DefaultTTL  = 30 * time.Second
	DefaultTopN = 100
)

type Config struct {
	Size int
	TTL  time.Duration
	TopN int
}

type table struct {
	entries  []models.LeaderboardEntry
	loadedAt time.Time
}

// Cache serves GetTopScores from memory for tables that fit in the top N.
type Cache struct {
	store store.LeaderboardStore
	cache *lru.Cache
	ttl   time.Duration
	topN  int
	clock clockwork.Clock
	log   logrus.FieldLogger
}

func NewCache(s store.LeaderboardStore, cfg Config, clock clockwork.Clock, log logrus.FieldLogger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	cache, _ := lru.New(cfg.Size)
	return &Cache{
		store: s,
		cache: cache,
		ttl:   cfg.TTL,
		topN:  cfg.TopN,
		clock: clock,
		log:   logger.Component(log, "leaderboard"),
	}
}

func key(gameType models.GameType, periodType period.Type, periodDate string) string {
	return fmt.Sprintf("%s|%s|%s", gameType, periodType, periodDate)
}

// TopScores returns entries [offset, offset+limit) of the ranked table.
func (c *Cache) TopScores(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, limit, offset int) ([]models.LeaderboardEntry, error) {
	if offset < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "offset must not be negative")
	}
	limit = store.ValidateLimit(limit, c.topN)

	var entries []models.LeaderboardEntry
	if offset+limit > c.topN {
		all, err := c.store.GetTopScores(ctx, gameType, periodType, periodDate, offset+limit)
		if err != nil {
			return nil, err
		}
		entries = all
	} else {
		all, err := c.load(ctx, gameType, periodType, periodDate)
		if err != nil {
			return nil, err
		}
		entries = all
	}

	if offset >= len(entries) {
		return []models.LeaderboardEntry{}, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]models.LeaderboardEntry, end-offset)
	copy(out, entries[offset:end])
	return out, nil
}

// Leader returns the first-ranked entry, or nil for an empty table.
func (c *Cache) Leader(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.LeaderboardEntry, error) {
	entries, err := c.store.GetTopScores(ctx, gameType, periodType, periodDate, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (c *Cache) load(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) ([]models.LeaderboardEntry, error) {
	k := key(gameType, periodType, periodDate)
	if v, ok := c.cache.Get(k); ok {
		t := v.(*table)
		if c.clock.Since(t.loadedAt) < c.ttl {
			return t.entries, nil
		}
		c.cache.Remove(k)
	}
	return c.Refresh(ctx, gameType, periodType, periodDate)
}

// Refresh re-reads the top N for one table, checks its ordering and stores it.
func (c *Cache) Refresh(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) ([]models.LeaderboardEntry, error) {
	entries, err := c.store.GetTopScores(ctx, gameType, periodType, periodDate, c.topN)
	if err != nil {
		return nil, err
	}
	if err := CheckOrder(entries); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"game_type": gameType,
			"period":    periodType,
			"date":      periodDate,
		}).Error("Leaderboard order check failed")
		return nil, err
	}
	c.cache.Add(key(gameType, periodType, periodDate), &table{entries: entries, loadedAt: c.clock.Now()})
	return entries, nil
}

// Invalidate drops every cached table for gameType.
func (c *Cache) Invalidate(gameType models.GameType) {
	prefix := string(gameType) + "|"
	for _, k := range c.cache.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.cache.Remove(k)
		}
	}
}

func (c *Cache) Len() int { return c.cache.Len() }

// CheckOrder verifies ranks run 1..n and scores never increase down the table.
func CheckOrder(entries []models.LeaderboardEntry) error {
	for i, e := range entries {
		if e.Rank != i+1 {
			return apperr.Internal(fmt.Sprintf("entry %d has rank %d", i, e.Rank), nil)
		}
		if i > 0 && e.Score > entries[i-1].Score {
			return apperr.Internal(fmt.Sprintf("rank %d score %d exceeds rank %d score %d", e.Rank, e.Score, entries[i-1].Rank, entries[i-1].Score), nil)
		}
	}
	return nil
}
