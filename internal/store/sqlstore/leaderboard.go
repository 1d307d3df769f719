package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

const leaderboardColumns = `game_type, period_type, period_date, player_address, score, session_id, achieved_at`

// MaxTopScores bounds a single leaderboard read.
const MaxTopScores = 1000

type LeaderboardStore struct {
	*base
}

var _ store.LeaderboardStore = (*LeaderboardStore)(nil)

// AddEntry upserts the score into the current daily, weekly and all-time boards.
// A stored score is only replaced by a strictly greater one.
func (s *LeaderboardStore) AddEntry(ctx context.Context, sessionID uuid.UUID, gameType models.GameType, player string, score int64) error {
	player = models.NormalizeAddress(player)
	if player == "" {
		return apperr.Validation(apperr.CodeInvalidAddress, "player address is required")
	}
	if score < 0 {
		return apperr.Validation(apperr.CodeInvalidScore, "score must not be negative")
	}

	now := s.now()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := s.q(`
		INSERT INTO leaderboard_entries (game_type, period_type, period_date, player_address, score, session_id, achieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_type, period_type, period_date, player_address)
		DO UPDATE SET score = excluded.score, session_id = excluded.session_id, achieved_at = excluded.achieved_at
		WHERE excluded.score > leaderboard_entries.score
	`)
	for _, pt := range []period.Type{period.Daily, period.Weekly, period.AllTime} {
		if _, err := tx.ExecContext(ctx, upsert, gameType, pt, period.ID(pt, now), player, score, sessionID, now); err != nil {
			return fmt.Errorf("failed to upsert %s leaderboard entry: %w", pt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit leaderboard entry: %w", err)
	}
	return nil
}

func (s *LeaderboardStore) GetTopScores(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, limit int) ([]models.LeaderboardEntry, error) {
	if err := period.Validate(periodType, periodDate); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}

	entries := []models.LeaderboardEntry{}
	err := s.db.SelectContext(ctx, &entries, s.q(`
		SELECT `+leaderboardColumns+` FROM leaderboard_entries
		WHERE game_type = ? AND period_type = ? AND period_date = ?
		ORDER BY score DESC, achieved_at ASC, player_address ASC
		LIMIT ?
	`), gameType, periodType, periodDate, store.ValidateLimit(limit, MaxTopScores))
	if err != nil {
		return nil, fmt.Errorf("failed to get top scores: %w", err)
	}

	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].AchievedAt = entries[i].AchievedAt.UTC()
	}
	return entries, nil
}

// GetPlayerRank ranks by the same ordering as GetTopScores.
func (s *LeaderboardStore) GetPlayerRank(ctx context.Context, gameType models.GameType, player string, periodType period.Type, periodDate string) (*models.LeaderboardEntry, error) {
	if err := period.Validate(periodType, periodDate); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	player = models.NormalizeAddress(player)

	var entry models.LeaderboardEntry
	err := s.db.GetContext(ctx, &entry, s.q(`
		SELECT `+leaderboardColumns+` FROM leaderboard_entries
		WHERE game_type = ? AND period_type = ? AND period_date = ? AND player_address = ?
	`), gameType, periodType, periodDate, player)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPlayerNotRanked(player, gameType, periodType, periodDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard entry: %w", err)
	}
	entry.AchievedAt = entry.AchievedAt.UTC()

	var ahead int
	err = s.db.GetContext(ctx, &ahead, s.q(`
		SELECT COUNT(*) FROM leaderboard_entries
		WHERE game_type = ? AND period_type = ? AND period_date = ?
		AND (
			score > ?
			OR (score = ? AND achieved_at < ?)
			OR (score = ? AND achieved_at = ? AND player_address < ?)
		)
	`), gameType, periodType, periodDate,
		entry.Score,
		entry.Score, entry.AchievedAt,
		entry.Score, entry.AchievedAt, entry.PlayerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rank: %w", err)
	}

	entry.Rank = ahead + 1
	return &entry, nil
}
