package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
)

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

	now := s.now()
	session := &models.GameSession{
		ID:            uuid.New(),
		GameType:      gameType,
		PlayerAddress: player,
		PaymentTxHash: paymentTxHash,
		AmountPaid:    amount,
		Status:        models.SessionActive,
		CreatedAt:     now,
	}
	id := session.ID.String()

	keys := []string{
		paymentKey(paymentTxHash),
		activePointerKey(gameType, player),
		activeSessions,
		playerSessionsKey(player),
		sessionKey(id),
	}
	res, err := createSessionScript.Run(ctx, s.rdb, keys,
		id, string(gameType), player, paymentTxHash, amount.Units(),
		micros(now), s.opts.SessionTimeout.Microseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	switch res {
	case -1:
		return nil, store.ErrPaymentReused(paymentTxHash)
	case -2:
		return nil, store.ErrSessionAlreadyActive(player, gameType)
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrSessionNotFound(id)
	}
	return parseSession(fields)
}

func (s *SessionStore) CompleteSession(ctx context.Context, id uuid.UUID, score int64) (*models.GameSession, error) {
	if score < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidScore, "score must not be negative")
	}

	res, err := completeSessionScript.Run(ctx, s.rdb,
		[]string{sessionKey(id.String()), activeSessions},
		score, micros(s.now()),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}

	switch res {
	case -1:
		return nil, store.ErrSessionNotFound(id)
	case 0:
		status, err := s.rdb.HGet(ctx, sessionKey(id.String()), "status").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read session status: %w", err)
		}
		return nil, store.ErrSessionNotActive(id, models.SessionStatus(status))
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) ExpireSession(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := expireSessionScript.Run(ctx, s.rdb,
		[]string{sessionKey(id.String()), activeSessions},
		micros(s.now()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to expire session: %w", err)
	}
	return res == 1, nil
}

func (s *SessionStore) GetActiveSession(ctx context.Context, player string, gameType models.GameType) (*models.GameSession, error) {
	player = models.NormalizeAddress(player)

	id, err := s.rdb.Get(ctx, activePointerKey(gameType, player)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt active session pointer %q: %w", id, err)
	}
	session, err := s.GetSession(ctx, sessionID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, nil
	}

	if session.Stale(s.now(), s.opts.SessionTimeout) {
		if _, err := s.ExpireSession(ctx, session.ID); err != nil {
			return nil, err
		}
		s.log.WithField("session_id", session.ID).Info("Expired stale active session on lookup")
		return nil, nil
	}
	return session, nil
}

func (s *SessionStore) ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.rdb.ZRangeByScore(ctx, activeSessions, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + micros(cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan active sessions: %w", err)
	}

	expired := 0
	for _, id := range ids {
		sessionID, err := uuid.Parse(id)
		if err != nil {
			s.log.WithField("session_id", id).Warn("Dropping malformed id from active index")
			s.rdb.ZRem(ctx, activeSessions, id)
			continue
		}
		ok, err := s.ExpireSession(ctx, sessionID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *SessionStore) ListPlayerSessions(ctx context.Context, player string, limit int) ([]models.GameSession, error) {
	limit = store.ValidateLimit(limit, 100)
	ids, err := s.rdb.ZRevRange(ctx, playerSessionsKey(models.NormalizeAddress(player)), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return s.loadSessions(ctx, ids)
}

func (s *SessionStore) PlayerStats(ctx context.Context, player string) (*models.PlayerStats, error) {
	player = models.NormalizeAddress(player)
	ids, err := s.rdb.ZRange(ctx, playerSessionsKey(player), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions, err := s.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	return models.SummarizeSessions(player, sessions), nil
}

// loadSessions reads session hashes in one round trip, skipping ids whose hash is gone.
func (s *SessionStore) loadSessions(ctx context.Context, ids []string) ([]models.GameSession, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to load sessions: %w", err)
		}
	}

	sessions := make([]models.GameSession, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		session, err := parseSession(fields)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

func parseSession(f map[string]string) (*models.GameSession, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", f["id"], err)
	}
	units, err := strconv.ParseInt(f["amount_paid_units"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid session amount: %w", err)
	}
	created, err := parseMicros(f["created_at"])
	if err != nil {
		return nil, err
	}
	completed, err := optMicros(f["completed_at"])
	if err != nil {
		return nil, err
	}
	score, err := optInt(f["score"])
	if err != nil {
		return nil, err
	}
	duration, err := optInt(f["game_duration_ms"])
	if err != nil {
		return nil, err
	}

	return &models.GameSession{
		ID:             id,
		GameType:       models.GameType(f["game_type"]),
		PlayerAddress:  f["player_address"],
		PaymentTxHash:  f["payment_tx_hash"],
		AmountPaid:     usdc.Amount(units),
		Score:          score,
		Status:         models.SessionStatus(f["status"]),
		CreatedAt:      created,
		CompletedAt:    completed,
		GameDurationMs: duration,
	}, nil
}
