package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/store"
)

const nonceColumns = `nonce, player_address, game_type, session_id, tx_hash, block_number, used_at`

type NonceStore struct {
	*base
}

var _ store.NonceStore = (*NonceStore)(nil)

func (s *NonceStore) MarkNonceUsed(ctx context.Context, n models.UsedNonce) (bool, error) {
	n.Nonce = models.NormalizeNonce(n.Nonce)
	if n.Nonce == "" {
		return false, apperr.Validation(apperr.CodeInvalidInput, "nonce is required")
	}
	n.PlayerAddress = models.NormalizeAddress(n.PlayerAddress)
	n.TxHash = models.NormalizeTxHash(n.TxHash)

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO used_nonces (`+nonceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (nonce) DO NOTHING
	`), n.Nonce, n.PlayerAddress, n.GameType, n.SessionID, n.TxHash, n.BlockNumber, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return inserted == 1, nil
}

func (s *NonceStore) GetUsedNonce(ctx context.Context, nonce string) (*models.UsedNonce, error) {
	var n models.UsedNonce
	err := s.db.GetContext(ctx, &n, s.q(`SELECT `+nonceColumns+` FROM used_nonces WHERE nonce = ?`), models.NormalizeNonce(nonce))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	n.UsedAt = n.UsedAt.UTC()
	return &n, nil
}

func (s *NonceStore) PurgeUsedNonces(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM used_nonces WHERE used_at < ?`), s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge nonces: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged nonces: %w", err)
	}
	return int(n), nil
}
