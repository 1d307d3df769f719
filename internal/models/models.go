package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/usdc"
)

// GameType identifies a game in the catalog
type GameType string

const (
	GameSnake         GameType = "snake"
	GameTetris        GameType = "tetris"
	GamePong          GameType = "pong"
	GameBreakout      GameType = "breakout"
	GameSpaceInvaders GameType = "space-invaders"
)

var AllGameTypes = []GameType{GameSnake, GameTetris, GamePong, GameBreakout, GameSpaceInvaders}

func ParseGameType(s string) (GameType, error) {
	for _, g := range AllGameTypes {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown game type %q", s)
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

type PoolStatus string

const (
	PoolActive    PoolStatus = "active"
	PoolFinalized PoolStatus = "finalized"
	PoolPaid      PoolStatus = "paid"
)

// GameSession is one paid play of one game
type GameSession struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	GameType       GameType      `db:"game_type" json:"game_type"`
	PlayerAddress  string        `db:"player_address" json:"player_address"`
	PaymentTxHash  string        `db:"payment_tx_hash" json:"payment_tx_hash"`
	AmountPaid     usdc.Amount   `db:"amount_paid_units" json:"amount_paid_usdc"`
	Score          *int64        `db:"score" json:"score"`
	Status         SessionStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time    `db:"completed_at" json:"completed_at"`
	GameDurationMs *int64        `db:"game_duration_ms" json:"game_duration_ms"`
}

// Stale reports whether an active session has outlived timeout at now.
func (s *GameSession) Stale(now time.Time, timeout time.Duration) bool {
	return s.Status == SessionActive && now.Sub(s.CreatedAt) > timeout
}

// LeaderboardEntry is a player's best score in one period
type LeaderboardEntry struct {
	Rank          int         `db:"-" json:"rank"`
	GameType      GameType    `db:"game_type" json:"game_type"`
	PeriodType    period.Type `db:"period_type" json:"period_type"`
	PeriodDate    string      `db:"period_date" json:"period_date"`
	PlayerAddress string      `db:"player_address" json:"player_address"`
	Score         int64       `db:"score" json:"score"`
	SessionID     uuid.UUID   `db:"session_id" json:"session_id"`
	AchievedAt    time.Time   `db:"achieved_at" json:"achieved_at"`
}

// PrizePool accumulates a share of every payment for one game and period
type PrizePool struct {
	GameType      GameType    `db:"game_type" json:"game_type"`
	PeriodType    period.Type `db:"period_type" json:"period_type"`
	PeriodDate    string      `db:"period_date" json:"period_date"`
	TotalAmount   usdc.Amount `db:"total_amount_units" json:"total_amount_usdc"`
	TotalGames    int64       `db:"total_games" json:"total_games"`
	Status        PoolStatus  `db:"status" json:"status"`
	WinnerAddress *string     `db:"winner_address" json:"winner_address"`
	PayoutTxHash  *string     `db:"payout_tx_hash" json:"payout_tx_hash"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	FinalizedAt   *time.Time  `db:"finalized_at" json:"finalized_at"`
	PaidAt        *time.Time  `db:"paid_at" json:"paid_at"`
}

// JobExecution records one run of a scheduled job. Kept in memory only.
type JobExecution struct {
	JobName     string    `json:"job_name"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// UsedNonce is a settled payment authorization and the session it paid for
type UsedNonce struct {
	Nonce         string    `db:"nonce" json:"nonce"`
	PlayerAddress string    `db:"player_address" json:"player_address"`
	GameType      GameType  `db:"game_type" json:"game_type"`
	SessionID     uuid.UUID `db:"session_id" json:"session_id"`
	TxHash        string    `db:"tx_hash" json:"tx_hash"`
	BlockNumber   int64     `db:"block_number" json:"block_number"`
	UsedAt        time.Time `db:"used_at" json:"used_at"`
}

// GameStats is one player's record in one game
type GameStats struct {
	GameType       GameType    `json:"game_type"`
	TotalGames     int64       `json:"total_games"`
	CompletedGames int64       `json:"completed_games"`
	TotalSpent     usdc.Amount `json:"total_spent_usdc"`
	BestScore      *int64      `json:"best_score"`
}

// PlayerStats summarizes every session a player has paid for
type PlayerStats struct {
	PlayerAddress  string      `json:"player_address"`
	TotalGames     int64       `json:"total_games"`
	CompletedGames int64       `json:"completed_games"`
	TotalSpent     usdc.Amount `json:"total_spent_usdc"`
	FavoriteGame   *GameType   `json:"favorite_game"`
	FirstPlayed    *time.Time  `json:"first_played"`
	LastPlayed     *time.Time  `json:"last_played"`
	Games          []GameStats `json:"games"`
}

// SummarizeSessions folds a player's sessions into PlayerStats. Only completed
// sessions count toward best scores. Games are ordered by game type.
func SummarizeSessions(player string, sessions []GameSession) *PlayerStats {
	stats := &PlayerStats{PlayerAddress: NormalizeAddress(player), Games: []GameStats{}}
	index := map[GameType]int{}

	for _, s := range sessions {
		stats.TotalGames++
		stats.TotalSpent += s.AmountPaid

		created := s.CreatedAt.UTC()
		if stats.FirstPlayed == nil || created.Before(*stats.FirstPlayed) {
			first := created
			stats.FirstPlayed = &first
		}
		if stats.LastPlayed == nil || created.After(*stats.LastPlayed) {
			last := created
			stats.LastPlayed = &last
		}

		i, ok := index[s.GameType]
		if !ok {
			i = len(stats.Games)
			index[s.GameType] = i
			stats.Games = append(stats.Games, GameStats{GameType: s.GameType})
		}
		g := &stats.Games[i]
		g.TotalGames++
		g.TotalSpent += s.AmountPaid

		if s.Status == SessionCompleted && s.Score != nil {
			stats.CompletedGames++
			g.CompletedGames++
			if g.BestScore == nil || *s.Score > *g.BestScore {
				best := *s.Score
				g.BestScore = &best
			}
		}
	}

	sort.Slice(stats.Games, func(i, j int) bool { return stats.Games[i].GameType < stats.Games[j].GameType })
	for i := range stats.Games {
		if stats.FavoriteGame == nil || stats.Games[i].TotalGames > stats.gameCount(*stats.FavoriteGame) {
			fav := stats.Games[i].GameType
			stats.FavoriteGame = &fav
		}
	}
	return stats
}

func (p *PlayerStats) gameCount(gameType GameType) int64 {
	for _, g := range p.Games {
		if g.GameType == gameType {
			return g.TotalGames
		}
	}
	return 0
}

// NormalizeAddress lowercases a chain address for storage and comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeTxHash lowercases a transaction hash so one payment cannot be replayed with different casing.
func NormalizeTxHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// NormalizeNonce lowercases an authorization nonce.
func NormalizeNonce(nonce string) string {
	return strings.ToLower(strings.TrimSpace(nonce))
}
