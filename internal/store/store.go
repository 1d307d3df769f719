// Package store defines the persistence contracts for sessions, leaderboards and prize pools.
// Two adapters implement them: sqlstore (Postgres or SQLite) and redisstore.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/usdc"
)

// DefaultSessionTimeout is how long an active session stays playable.
const DefaultSessionTimeout = 15 * time.Minute

// SessionStore owns the GameSession lifecycle: active -> completed | expired.
type SessionStore interface {
	// CreateSession fails with a conflict when paymentTxHash is already bound to a session
	// or the player holds a live active session for gameType. A stale one is expired first.
	CreateSession(ctx context.Context, gameType models.GameType, player, paymentTxHash string, amount usdc.Amount) (*models.GameSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	CompleteSession(ctx context.Context, id uuid.UUID, score int64) (*models.GameSession, error)
	// ExpireSession returns false without error when the session is not active.
	ExpireSession(ctx context.Context, id uuid.UUID) (bool, error)
	// GetActiveSession returns nil, nil when the player has no live active session.
	GetActiveSession(ctx context.Context, player string, gameType models.GameType) (*models.GameSession, error)
	ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int, error)
	ListPlayerSessions(ctx context.Context, player string, limit int) ([]models.GameSession, error)
	// PlayerStats summarizes all of a player's sessions; a player with none gets zero totals.
	PlayerStats(ctx context.Context, player string) (*models.PlayerStats, error)
}

// LeaderboardStore keeps each player's best score per game and period.
type LeaderboardStore interface {
	AddEntry(ctx context.Context, sessionID uuid.UUID, gameType models.GameType, player string, score int64) error
	GetTopScores(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, limit int) ([]models.LeaderboardEntry, error)
	GetPlayerRank(ctx context.Context, gameType models.GameType, player string, periodType period.Type, periodDate string) (*models.LeaderboardEntry, error)
}

// PrizePoolStore accumulates funds per game and period; status only moves active -> finalized -> paid.
type PrizePoolStore interface {
	GetOrCreatePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error)
	GetPool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error)
	AddFunds(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, amount usdc.Amount) (*models.PrizePool, error)
	// AddToPrizePool credits pct percent of amount to the current daily and weekly pools.
	AddToPrizePool(ctx context.Context, gameType models.GameType, amount usdc.Amount, pct decimal.Decimal) error
	// FinalizePool is a no-op on a missing or non-active pool. It reports whether a pool changed.
	FinalizePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, winner *string) (bool, error)
	MarkAsPaid(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate, payoutTxHash string) (*models.PrizePool, error)
	ListPools(ctx context.Context, gameType models.GameType, periodType period.Type, limit int) ([]models.PrizePool, error)
}

// NonceStore remembers settled payment authorizations so a replayed X-PAYMENT header
// is answered from the record instead of being settled again.
type NonceStore interface {
	// MarkNonceUsed returns false without error when the nonce is already recorded.
	MarkNonceUsed(ctx context.Context, n models.UsedNonce) (bool, error)
	// GetUsedNonce returns nil, nil for a nonce that was never recorded.
	GetUsedNonce(ctx context.Context, nonce string) (*models.UsedNonce, error)
	PurgeUsedNonces(ctx context.Context, olderThan time.Duration) (int, error)
}

// DefaultNonceRetention is how long settled nonces are remembered.
const DefaultNonceRetention = 30 * 24 * time.Hour

// Stores bundles one backend's adapters.
type Stores struct {
	Sessions    SessionStore
	Leaderboard LeaderboardStore
	Pools       PrizePoolStore
	Nonces      NonceStore
	Ping        func(ctx context.Context) error
	Close       func() error
}

// Options shared by both adapters.
type Options struct {
	SessionTimeout time.Duration
}

func (o Options) WithDefaults() Options {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	return o
}
