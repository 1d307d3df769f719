package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
)

type PrizePoolStore struct {
	*base
}

var _ store.PrizePoolStore = (*PrizePoolStore)(nil)

type poolRef struct {
	periodType period.Type
	periodDate string
}

func (s *PrizePoolStore) GetOrCreatePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}

	reply, err := getOrCreatePoolScript.Run(ctx, s.rdb,
		[]string{poolKey(gameType, periodType, periodDate), poolIndexKey(gameType, periodType)},
		string(gameType), string(periodType), periodDate, micros(s.now()),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to get or create pool: %w", err)
	}
	return parsePool(pairsToMap(reply))
}

func (s *PrizePoolStore) GetPool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}

	fields, err := s.rdb.HGetAll(ctx, poolKey(gameType, periodType, periodDate)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrPoolNotFound(gameType, periodType, periodDate)
	}
	return parsePool(fields)
}

func (s *PrizePoolStore) AddFunds(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, amount usdc.Amount) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "amount must not be negative")
	}

	if err := s.addFunds(ctx, gameType, amount, poolRef{periodType, periodDate}); err != nil {
		return nil, err
	}
	return s.GetPool(ctx, gameType, periodType, periodDate)
}

func (s *PrizePoolStore) AddToPrizePool(ctx context.Context, gameType models.GameType, amount usdc.Amount, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Validation(apperr.CodeInvalidInput, "prize pool percentage must be between 0 and 100, got %s", pct)
	}
	if amount < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "amount must not be negative")
	}

	now := s.now()
	return s.addFunds(ctx, gameType, amount.Percent(pct),
		poolRef{period.Daily, period.DailyID(now)},
		poolRef{period.Weekly, period.WeeklyID(now)},
	)
}

// addFunds credits every pool in refs in one script, or none of them.
func (s *PrizePoolStore) addFunds(ctx context.Context, gameType models.GameType, amount usdc.Amount, refs ...poolRef) error {
	keys := make([]string, 0, 2*len(refs))
	args := []interface{}{string(gameType), micros(s.now()), amount.Units()}
	for _, ref := range refs {
		keys = append(keys, poolKey(gameType, ref.periodType, ref.periodDate), poolIndexKey(gameType, ref.periodType))
		args = append(args, string(ref.periodType), ref.periodDate)
	}

	reply, err := addFundsScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return fmt.Errorf("failed to add pool funds: %w", err)
	}
	if len(reply) != 2 {
		return fmt.Errorf("unexpected add funds reply %v", reply)
	}

	idx, _ := reply[0].(int64)
	if idx == 0 {
		return nil
	}
	status, _ := reply[1].(string)
	ref := refs[idx-1]
	return store.ErrPoolNotActive(gameType, ref.periodType, ref.periodDate, models.PoolStatus(status))
}

func (s *PrizePoolStore) FinalizePool(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string, winner *string) (bool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return false, err
	}
	winnerAddr := ""
	if winner != nil {
		winnerAddr = models.NormalizeAddress(*winner)
	}

	res, err := finalizePoolScript.Run(ctx, s.rdb,
		[]string{poolKey(gameType, periodType, periodDate)},
		winnerAddr, micros(s.now()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to finalize pool: %w", err)
	}
	return res == 1, nil
}

func (s *PrizePoolStore) MarkAsPaid(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate, payoutTxHash string) (*models.PrizePool, error) {
	if err := store.CheckPoolKey(periodType, periodDate); err != nil {
		return nil, err
	}
	payoutTxHash = models.NormalizeTxHash(payoutTxHash)
	if payoutTxHash == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "payout transaction hash is required")
	}

	reply, err := markPaidScript.Run(ctx, s.rdb,
		[]string{poolKey(gameType, periodType, periodDate)},
		payoutTxHash, micros(s.now()),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to mark pool paid: %w", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected mark paid reply %v", reply)
	}

	code, _ := reply[0].(int64)
	status, _ := reply[1].(string)
	switch code {
	case -1:
		return nil, store.ErrPoolNotFound(gameType, periodType, periodDate)
	case 0:
		return nil, store.ErrPoolNotFinalized(gameType, periodType, periodDate, models.PoolStatus(status))
	}
	return s.GetPool(ctx, gameType, periodType, periodDate)
}

func (s *PrizePoolStore) ListPools(ctx context.Context, gameType models.GameType, periodType period.Type, limit int) ([]models.PrizePool, error) {
	if err := store.CheckPoolPeriod(periodType); err != nil {
		return nil, err
	}
	limit = store.ValidateLimit(limit, 100)

	dates, err := s.rdb.ZRevRangeByLex(ctx, poolIndexKey(gameType, periodType), &redis.ZRangeBy{
		Min:   "-",
		Max:   "+",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, poolKey(gameType, periodType, date))
	}
	if len(dates) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to load pools: %w", err)
		}
	}

	pools := make([]models.PrizePool, 0, len(dates))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		pool, err := parsePool(cmd.Val())
		if err != nil {
			return nil, err
		}
		pools = append(pools, *pool)
	}
	return pools, nil
}

func parsePool(f map[string]string) (*models.PrizePool, error) {
	units, err := strconv.ParseInt(f["total_amount_units"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pool amount: %w", err)
	}
	games, err := strconv.ParseInt(f["total_games"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pool game count: %w", err)
	}
	created, err := parseMicros(f["created_at"])
	if err != nil {
		return nil, err
	}
	finalized, err := optMicros(f["finalized_at"])
	if err != nil {
		return nil, err
	}
	paid, err := optMicros(f["paid_at"])
	if err != nil {
		return nil, err
	}

	return &models.PrizePool{
		GameType:      models.GameType(f["game_type"]),
		PeriodType:    period.Type(f["period_type"]),
		PeriodDate:    f["period_date"],
		TotalAmount:   usdc.Amount(units),
		TotalGames:    games,
		Status:        models.PoolStatus(f["status"]),
		WinnerAddress: optString(f["winner_address"]),
		PayoutTxHash:  optString(f["payout_tx_hash"]),
		CreatedAt:     created,
		FinalizedAt:   finalized,
		PaidAt:        paid,
	}, nil
}
