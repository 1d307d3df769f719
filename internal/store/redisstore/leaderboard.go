package redisstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

const maxTopScores = 1000

type LeaderboardStore struct {
	*base
}

var _ store.LeaderboardStore = (*LeaderboardStore)(nil)

func (s *LeaderboardStore) AddEntry(ctx context.Context, sessionID uuid.UUID, gameType models.GameType, player string, score int64) error {
	player = models.NormalizeAddress(player)
	if player == "" {
		return apperr.Validation(apperr.CodeInvalidAddress, "player address is required")
	}
	if score < 0 {
		return apperr.Validation(apperr.CodeInvalidScore, "score must not be negative")
	}

	now := s.now()
	keys := make([]string, 0, 9)
	for _, pt := range []period.Type{period.Daily, period.Weekly, period.AllTime} {
		board := boardKey(gameType, pt, period.ID(pt, now))
		keys = append(keys, board, board+":at", board+":session")
	}

	if err := upsertScoreScript.Run(ctx, s.rdb, keys, player, score, sessionID.String(), micros(now)).Err(); err != nil {
		return fmt.Errorf("failed to upsert leaderboard entries: %w", err)
	}
	return nil
}

// GetTopScores reads the first limit members, widens the read to every member tied with
// the last one, then orders ties by achievement time before trimming.
func (s *LeaderboardStore) GetTopScores(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, limit int) ([]models.LeaderboardEntry, error) {
	if err := period.Validate(periodType, periodDate); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	limit = store.ValidateLimit(limit, maxTopScores)
	board := boardKey(gameType, periodType, periodDate)

	members, err := s.rdb.ZRevRangeWithScores(ctx, board, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get top scores: %w", err)
	}
	if len(members) == limit {
		threshold := members[len(members)-1].Score
		members, err = s.rdb.ZRevRangeByScoreWithScores(ctx, board, &redis.ZRangeBy{
			Max: "+inf",
			Min: strconv.FormatFloat(threshold, 'f', -1, 64),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get tied scores: %w", err)
		}
	}

	entries, err := s.hydrate(ctx, gameType, periodType, periodDate, members)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *LeaderboardStore) GetPlayerRank(ctx context.Context, gameType models.GameType, player string, periodType period.Type, periodDate string) (*models.LeaderboardEntry, error) {
	if err := period.Validate(periodType, periodDate); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	player = models.NormalizeAddress(player)
	board := boardKey(gameType, periodType, periodDate)

	score, err := s.rdb.ZScore(ctx, board, player).Result()
	if err == redis.Nil {
		return nil, store.ErrPlayerNotRanked(player, gameType, periodType, periodDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player score: %w", err)
	}

	scoreStr := strconv.FormatFloat(score, 'f', -1, 64)
	higher, err := s.rdb.ZCount(ctx, board, "("+scoreStr, "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count higher scores: %w", err)
	}
	tied, err := s.rdb.ZRangeByScoreWithScores(ctx, board, &redis.ZRangeBy{Min: scoreStr, Max: scoreStr}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get tied scores: %w", err)
	}

	entries, err := s.hydrate(ctx, gameType, periodType, periodDate, tied)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)

	for i := range entries {
		if entries[i].PlayerAddress == player {
			entry := entries[i]
			entry.Rank = int(higher) + i + 1
			return &entry, nil
		}
	}
	return nil, store.ErrPlayerNotRanked(player, gameType, periodType, periodDate)
}

// hydrate attaches achievement time and session id to sorted-set members.
func (s *LeaderboardStore) hydrate(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, members []redis.Z) ([]models.LeaderboardEntry, error) {
	if len(members) == 0 {
		return []models.LeaderboardEntry{}, nil
	}
	board := boardKey(gameType, periodType, periodDate)

	players := make([]string, len(members))
	for i, m := range members {
		players[i], _ = m.Member.(string)
	}

	pipe := s.rdb.Pipeline()
	atCmd := pipe.HMGet(ctx, board+":at", players...)
	sessionCmd := pipe.HMGet(ctx, board+":session", players...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load leaderboard details: %w", err)
	}
	ats, sessions := atCmd.Val(), sessionCmd.Val()

	entries := make([]models.LeaderboardEntry, len(members))
	for i, m := range members {
		entry := models.LeaderboardEntry{
			GameType:      gameType,
			PeriodType:    periodType,
			PeriodDate:    periodDate,
			PlayerAddress: players[i],
			Score:         int64(m.Score),
		}
		if at, ok := ats[i].(string); ok {
			t, err := parseMicros(at)
			if err != nil {
				return nil, err
			}
			entry.AchievedAt = t
		}
		if sid, ok := sessions[i].(string); ok {
			entry.SessionID, _ = uuid.Parse(sid)
		}
		entries[i] = entry
	}
	return entries, nil
}

// sortEntries orders by score descending, then earliest achievement, then address.
func sortEntries(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.AchievedAt.Equal(b.AchievedAt) {
			return a.AchievedAt.Before(b.AchievedAt)
		}
		return a.PlayerAddress < b.PlayerAddress
	})
}
