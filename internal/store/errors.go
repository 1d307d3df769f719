package store

import (
	"github.com/google/uuid"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
)

// Errors shared by both adapters so callers see identical codes whichever backend is configured.

func ErrSessionNotFound(id uuid.UUID) error {
	return apperr.NotFound(apperr.CodeSessionNotFound, "session %s not found", id)
}

func ErrSessionNotActive(id uuid.UUID, status models.SessionStatus) error {
	return apperr.Conflict(apperr.CodeSessionNotActive, "session %s is %s", id, status)
}

func ErrPaymentReused(hash string) error {
	return apperr.Conflict(apperr.CodePaymentReused, "payment %s already used by another session", hash)
}

func ErrSessionAlreadyActive(player string, gameType models.GameType) error {
	return apperr.Conflict(apperr.CodeSessionActive, "player %s already has an active %s session", player, gameType)
}

func ErrPoolNotFound(gameType models.GameType, periodType period.Type, date string) error {
	return apperr.NotFound(apperr.CodePoolNotFound, "no %s %s pool for %s", periodType, gameType, date)
}

func ErrPoolNotActive(gameType models.GameType, periodType period.Type, date string, status models.PoolStatus) error {
	return apperr.Conflict(apperr.CodePoolNotActive, "%s %s pool for %s is %s", periodType, gameType, date, status)
}

func ErrPoolNotFinalized(gameType models.GameType, periodType period.Type, date string, status models.PoolStatus) error {
	return apperr.Conflict(apperr.CodePoolNotFinalized, "%s %s pool for %s is %s, expected finalized", periodType, gameType, date, status)
}

func ErrPlayerNotRanked(player string, gameType models.GameType, periodType period.Type, date string) error {
	return apperr.NotFound(apperr.CodePlayerNotRanked, "player %s has no %s %s entry for %s", player, periodType, gameType, date)
}

// ValidateLimit clamps a list limit to [1, max].
func ValidateLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// CheckPoolPeriod rejects period types that have no prize pool.
func CheckPoolPeriod(periodType period.Type) error {
	if !periodType.PoolType() {
		return apperr.Validation(apperr.CodeInvalidInput, "prize pools are daily or weekly, got %q", periodType)
	}
	return nil
}

// CheckPoolKey validates the period half of a pool key.
func CheckPoolKey(periodType period.Type, periodDate string) error {
	if err := CheckPoolPeriod(periodType); err != nil {
		return err
	}
	if err := period.Validate(periodType, periodDate); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	return nil
}
