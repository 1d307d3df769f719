package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/store"
)

type NonceStore struct {
	*base
}

var _ store.NonceStore = (*NonceStore)(nil)

func (s *NonceStore) MarkNonceUsed(ctx context.Context, n models.UsedNonce) (bool, error) {
	n.Nonce = models.NormalizeNonce(n.Nonce)
	if n.Nonce == "" {
		return false, apperr.Validation(apperr.CodeInvalidInput, "nonce is required")
	}

	res, err := markNonceScript.Run(ctx, s.rdb, []string{nonceKey(n.Nonce), usedNonces},
		n.Nonce, models.NormalizeAddress(n.PlayerAddress), string(n.GameType),
		n.SessionID.String(), models.NormalizeTxHash(n.TxHash), n.BlockNumber, micros(s.now()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return res == 1, nil
}

func (s *NonceStore) GetUsedNonce(ctx context.Context, nonce string) (*models.UsedNonce, error) {
	fields, err := s.rdb.HGetAll(ctx, nonceKey(models.NormalizeNonce(nonce))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseNonce(fields)
}

func (s *NonceStore) PurgeUsedNonces(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	n, err := purgeNoncesScript.Run(ctx, s.rdb, []string{usedNonces}, micros(cutoff)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	return n, nil
}

func parseNonce(f map[string]string) (*models.UsedNonce, error) {
	sessionID, err := uuid.Parse(f["session_id"])
	if err != nil {
		return nil, fmt.Errorf("invalid nonce session id %q: %w", f["session_id"], err)
	}
	block, err := strconv.ParseInt(f["block_number"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce block number %q: %w", f["block_number"], err)
	}
	usedAt, err := parseMicros(f["used_at"])
	if err != nil {
		return nil, err
	}
	return &models.UsedNonce{
		Nonce:         f["nonce"],
		PlayerAddress: f["player_address"],
		GameType:      models.GameType(f["game_type"]),
		SessionID:     sessionID,
		TxHash:        f["tx_hash"],
		BlockNumber:   block,
		UsedAt:        usedAt,
	}, nil
}
