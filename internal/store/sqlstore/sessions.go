package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
)

const sessionColumns = `id, game_type, player_address, payment_tx_hash, amount_paid_units, score, status,
	created_at, completed_at, game_duration_ms`

type SessionStore struct {
	*base
}

var _ store.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) CreateSession(ctx context.Context, gameType models.GameType, player, paymentTxHash string, amount usdc.Amount) (*models.GameSession, error) {
	player = models.NormalizeAddress(player)
	paymentTxHash = models.NormalizeTxHash(paymentTxHash)
	if player == "" || paymentTxHash == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "player address and payment hash are required")
	}
	if amount < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "amount must not be negative")
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing uuid.UUID
	err = tx.GetContext(ctx, &existing, s.q(`SELECT id FROM game_sessions WHERE payment_tx_hash = ?`), paymentTxHash)
	if err == nil {
		return nil, store.ErrPaymentReused(paymentTxHash)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check payment hash: %w", err)
	}

	now := s.now()

	active, err := s.activeSessionTx(ctx, tx, player, gameType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if !active.Stale(now, s.opts.SessionTimeout) {
			return nil, store.ErrSessionAlreadyActive(player, gameType)
		}
		if _, err := s.expireTx(ctx, tx, active.ID, now); err != nil {
			return nil, err
		}
		s.log.WithField("session_id", active.ID).Info("Expired stale session before creating a new one")
	}

	session := &models.GameSession{
		ID:            uuid.New(),
		GameType:      gameType,
		PlayerAddress: player,
		PaymentTxHash: paymentTxHash,
		AmountPaid:    amount,
		Status:        models.SessionActive,
		CreatedAt:     now,
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO game_sessions (id, game_type, player_address, payment_tx_hash, amount_paid_units, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), session.ID, session.GameType, session.PlayerAddress, session.PaymentTxHash, session.AmountPaid, session.Status, session.CreatedAt)
	if err != nil {
		if detail, ok := uniqueViolation(err); ok {
			if strings.Contains(detail, "payment_tx_hash") {
				return nil, store.ErrPaymentReused(paymentTxHash)
			}
			return nil, store.ErrSessionAlreadyActive(player, gameType)
		}
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if detail, ok := uniqueViolation(err); ok && strings.Contains(detail, "payment_tx_hash") {
			return nil, store.ErrPaymentReused(paymentTxHash)
		}
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}

	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	var session models.GameSession
	err := s.db.GetContext(ctx, &session, s.q(`SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return normalizeSession(&session), nil
}

func (s *SessionStore) CompleteSession(ctx context.Context, id uuid.UUID, score int64) (*models.GameSession, error) {
	if score < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidScore, "score must not be negative")
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var session models.GameSession
	err = tx.GetContext(ctx, &session, s.q(`SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	normalizeSession(&session)
	if session.Status != models.SessionActive {
		return nil, store.ErrSessionNotActive(id, session.Status)
	}

	now := s.now()
	duration := now.Sub(session.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE game_sessions
		SET score = ?, status = ?, completed_at = ?, game_duration_ms = ?
		WHERE id = ? AND status = ?
	`), score, models.SessionCompleted, now, duration, id, models.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrSessionNotActive(id, "no longer active")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session completion: %w", err)
	}

	session.Score = &score
	session.Status = models.SessionCompleted
	session.CompletedAt = &now
	session.GameDurationMs = &duration
	return &session, nil
}

func (s *SessionStore) ExpireSession(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired, err := s.expireTx(ctx, tx, id, s.now())
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit session expiry: %w", err)
	}
	return expired, nil
}

func (s *SessionStore) GetActiveSession(ctx context.Context, player string, gameType models.GameType) (*models.GameSession, error) {
	player = models.NormalizeAddress(player)

	var session models.GameSession
	err := s.db.GetContext(ctx, &session, s.q(`
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE player_address = ? AND game_type = ? AND status = ?
	`), player, gameType, models.SessionActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	normalizeSession(&session)

	if session.Stale(s.now(), s.opts.SessionTimeout) {
		if _, err := s.ExpireSession(ctx, session.ID); err != nil {
			return nil, err
		}
		s.log.WithField("session_id", session.ID).Info("Expired stale active session on lookup")
		return nil, nil
	}
	return &session, nil
}

func (s *SessionStore) ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE game_sessions SET status = ?, completed_at = ?
		WHERE status = ? AND created_at < ?
	`), models.SessionExpired, now, models.SessionActive, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	return int(n), nil
}

func (s *SessionStore) ListPlayerSessions(ctx context.Context, player string, limit int) ([]models.GameSession, error) {
	sessions := []models.GameSession{}
	err := s.db.SelectContext(ctx, &sessions, s.q(`
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE player_address = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), models.NormalizeAddress(player), store.ValidateLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i := range sessions {
		normalizeSession(&sessions[i])
	}
	return sessions, nil
}

func (s *SessionStore) PlayerStats(ctx context.Context, player string) (*models.PlayerStats, error) {
	player = models.NormalizeAddress(player)
	sessions := []models.GameSession{}
	err := s.db.SelectContext(ctx, &sessions, s.q(`
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE player_address = ?
		ORDER BY created_at
	`), player)
	if err != nil {
		return nil, fmt.Errorf("failed to load player sessions: %w", err)
	}
	for i := range sessions {
		normalizeSession(&sessions[i])
	}
	return models.SummarizeSessions(player, sessions), nil
}

func (s *SessionStore) activeSessionTx(ctx context.Context, tx *sqlx.Tx, player string, gameType models.GameType) (*models.GameSession, error) {
	var session models.GameSession
	err := tx.GetContext(ctx, &session, s.q(`
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE player_address = ? AND game_type = ? AND status = ?
	`), player, gameType, models.SessionActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return normalizeSession(&session), nil
}

func (s *SessionStore) expireTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE game_sessions SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`), models.SessionExpired, now, id, models.SessionActive)
	if err != nil {
		return false, fmt.Errorf("failed to expire session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to expire session: %w", err)
	}
	return n > 0, nil
}

func normalizeSession(s *models.GameSession) *models.GameSession {
	s.CreatedAt = s.CreatedAt.UTC()
	s.CompletedAt = utcPtr(s.CompletedAt)
	return s
}
