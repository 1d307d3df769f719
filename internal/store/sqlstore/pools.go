package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
)

const poolColumns = `game_type, period_type, period_date, total_amount_units, total_games, status,
	winner_address, payout_tx_hash, created_at, finalized_at, paid_at`

type PrizePoolStore struct {
	*base
}

var _ store.PrizePoolStore = (*PrizePoolStore)(nil)

func (s *PrizePoolStore) GetOrCreatePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensurePoolTx(ctx, tx, gameType, periodType, periodDate); err != nil {
		return nil, err
	}
	pool, err := s.getPoolTx(ctx, tx, gameType, periodType, periodDate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pool: %w", err)
	}
	return pool, nil
}

func (s *PrizePoolStore) GetPool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}

	var pool models.PrizePool
	err := s.db.GetContext(ctx, &pool, s.q(`
		SELECT `+poolColumns+` FROM prize_pools
		WHERE game_type = ? AND period_type = ? AND period_date = ?
	`), gameType, periodType, periodDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPoolNotFound(gameType, periodType, periodDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return normalizePool(&pool), nil
}

// AddFunds increments the pool in place, so concurrent payments never lose an update.
func (s *PrizePoolStore) AddFunds(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, amount usdc.Amount) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "amount must not be negative")
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.addFundsTx(ctx, tx, gameType, periodType, periodDate, amount); err != nil {
		return nil, err
	}
	pool, err := s.getPoolTx(ctx, tx, gameType, periodType, periodDate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pool funds: %w", err)
	}
	return pool, nil
}

func (s *PrizePoolStore) AddToPrizePool(ctx context.Context, gameType models.GameType, amount usdc.Amount, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Validation(apperr.CodeInvalidInput, "prize pool percentage must be between 0 and 100, got %s", pct)
	}
	if amount < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "amount must not be negative")
	}
	share := amount.Percent(pct)
	now := s.now()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, pt := range []period.Type{period.Daily, period.Weekly} {
		if err := s.addFundsTx(ctx, tx, gameType, pt, period.ID(pt, now), share); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prize pool contribution: %w", err)
	}
	return nil
}

func (s *PrizePoolStore) FinalizePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, winner *string) (bool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return false, err
	}
	var winnerAddr *string
	if winner != nil && *winner != "" {
		w := models.NormalizeAddress(*winner)
		winnerAddr = &w
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE prize_pools SET status = ?, winner_address = ?, finalized_at = ?
		WHERE game_type = ? AND period_type = ? AND period_date = ? AND status = ?
	`), models.PoolFinalized, winnerAddr, s.now(), gameType, periodType, periodDate, models.PoolActive)
	if err != nil {
		return false, fmt.Errorf("failed to finalize pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to finalize pool: %w", err)
	}
	return n > 0, nil
}

func (s *PrizePoolStore) MarkAsPaid(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate, payoutTxHash string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}
	payoutTxHash = models.NormalizeTxHash(payoutTxHash)
	if payoutTxHash == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "payout transaction hash is required")
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pool, err := s.getPoolTx(ctx, tx, gameType, periodType, periodDate)
	if err != nil {
		return nil, err
	}
	if pool.Status != models.PoolFinalized {
		return nil, store.ErrPoolNotFinalized(gameType, periodType, periodDate, pool.Status)
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE prize_pools SET status = ?, payout_tx_hash = ?, paid_at = ?
		WHERE game_type = ? AND period_type = ? AND period_date = ? AND status = ?
	`), models.PoolPaid, payoutTxHash, now, gameType, periodType, periodDate, models.PoolFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to mark pool paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrPoolNotFinalized(gameType, periodType, periodDate, "changed concurrently")
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pool payout: %w", err)
	}

	pool.Status = models.PoolPaid
	pool.PayoutTxHash = &payoutTxHash
	pool.PaidAt = &now
	return pool, nil
}

func (s *PrizePoolStore) ListPools(ctx context.Context, gameType models.GameType, periodType period.Type, limit int) ([]models.PrizePool, error) {
	if err := store.CheckPoolPeriod(periodType); err != nil {
		return nil, err
	}

	pools := []models.PrizePool{}
	err := s.db.SelectContext(ctx, &pools, s.q(`
		SELECT `+poolColumns+` FROM prize_pools
		WHERE game_type = ? AND period_type = ?
		ORDER BY period_date DESC
		LIMIT ?
	`), gameType, periodType, store.ValidateLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	for i := range pools {
		normalizePool(&pools[i])
	}
	return pools, nil
}

func (s *PrizePoolStore) ensurePoolTx(ctx context.Context, tx *sqlx.Tx, gameType models.GameType, periodType period.Type, periodDate string) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO prize_pools (game_type, period_type, period_date, total_amount_units, total_games, status, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT (game_type, period_type, period_date) DO NOTHING
	`), gameType, periodType, periodDate, models.PoolActive, s.now())
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	return nil
}

func (s *PrizePoolStore) addFundsTx(ctx context.Context, tx *sqlx.Tx, gameType models.GameType, periodType period.Type, periodDate string, amount usdc.Amount) error {
	if err := s.ensurePoolTx(ctx, tx, gameType, periodType, periodDate); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE prize_pools
		SET total_amount_units = total_amount_units + ?, total_games = total_games + 1
		WHERE game_type = ? AND period_type = ? AND period_date = ? AND status = ?
	`), amount, gameType, periodType, periodDate, models.PoolActive)
	if err != nil {
		return fmt.Errorf("failed to add pool funds: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		pool, err := s.getPoolTx(ctx, tx, gameType, periodType, periodDate)
		if err != nil {
			return err
		}
		return store.ErrPoolNotActive(gameType, periodType, periodDate, pool.Status)
	}
	return nil
}

func (s *PrizePoolStore) getPoolTx(ctx context.Context, tx *sqlx.Tx, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error) {
	var pool models.PrizePool
	err := tx.GetContext(ctx, &pool, s.q(`
		SELECT `+poolColumns+` FROM prize_pools
		WHERE game_type = ? AND period_type = ? AND period_date = ?
	`), gameType, periodType, periodDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPoolNotFound(gameType, periodType, periodDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return normalizePool(&pool), nil
}

func normalizePool(p *models.PrizePool) *models.PrizePool {
	p.CreatedAt = p.CreatedAt.UTC()
	p.FinalizedAt = utcPtr(p.FinalizedAt)
	p.PaidAt = utcPtr(p.PaidAt)
	return p
}
