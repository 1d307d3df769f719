package game

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/payment"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
	"golang.org/x/sync/errgroup"
)

// Settler is the part of the facilitator client the play flow needs.
type Settler interface {
	NewRequirements(payTo, resource, description string, price usdc.Amount) payment.Requirements
	NewSettlementRequest(p *payment.PaymentPayload, header, resource string) payment.SettlementRequest
	Settle(ctx context.Context, req payment.SettlementRequest) (*payment.Response, error)
}

type PaymentLock interface {
	Acquire(ctx context.Context, nonce string) (release func(), err error)
}

type CacheInvalidator interface {
	Invalidate(gameType models.GameType)
}

type EventPublisher interface {
	PublishLeaderboardUpdate(ctx context.Context, ev LeaderboardEvent) error
}

// LeaderboardEvent is broadcast after every accepted score.
type LeaderboardEvent struct {
	Type          string              `json:"type"`
	GameType      models.GameType     `json:"game_type"`
	PlayerAddress string              `json:"player_address"`
	Score         int64               `json:"score"`
	SessionID     uuid.UUID           `json:"session_id"`
	Ranks         map[period.Type]int `json:"ranks,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

const EventLeaderboardUpdate = "leaderboard_update"

type Deps struct {
	Sessions    store.SessionStore
	Leaderboard store.LeaderboardStore
	Pools       store.PrizePoolStore
	Nonces      store.NonceStore
	Settler     Settler
	Lock        PaymentLock
	Validator   ScoreValidator
	Cache       CacheInvalidator
	Events      EventPublisher
	Clock       clockwork.Clock
	Log         logrus.FieldLogger
}

type Options struct {
	ArcadeWallet        string
	PrizePoolPercentage decimal.Decimal
	SessionTimeout      time.Duration
}

// Service runs the paid play flow and score submission.
type Service struct {
	Deps
	opts Options
	log  logrus.FieldLogger
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Validator == nil {
		deps.Validator = BoundsValidator{}
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = store.DefaultSessionTimeout
	}
	return &Service{Deps: deps, opts: opts, log: logger.Component(deps.Log, "game")}
}

// Requirements returns the 402 challenge for one play of gameType.
func (s *Service) Requirements(gameType models.GameType, resource string) (payment.Requirements, error) {
	g, err := Lookup(gameType)
	if err != nil {
		return payment.Requirements{}, err
	}
	return s.Settler.NewRequirements(s.opts.ArcadeWallet, resource, g.Name+" - one play", g.Price), nil
}

// StartResult is a paid session and the settlement that funded it.
// Replayed is set when the payment had already been settled and the stored result was returned.
type StartResult struct {
	Session     *models.GameSession  `json:"session"`
	Transaction *payment.Transaction `json:"transaction"`
	Replayed    bool                 `json:"replayed,omitempty"`
}

// StartSession settles the payment carried by header and opens a session bound to it.
func (s *Service) StartSession(ctx context.Context, gameType models.GameType, header, resource string) (*StartResult, error) {
	reqs, err := s.Requirements(gameType, resource)
	if err != nil {
		return nil, err
	}

	payload, err := payment.DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	if err := payment.CheckRequirements(payload, reqs, s.Clock.Now()); err != nil {
		return nil, err
	}

	auth := payload.Payload.Authorization
	player := models.NormalizeAddress(auth.From)
	paid, err := usdc.ParseUnits(auth.Value)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}

	if s.Lock != nil {
		release, err := s.Lock.Acquire(ctx, auth.Nonce)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if replay, err := s.replay(ctx, gameType, player, auth.Nonce); replay != nil || err != nil {
		return replay, err
	}

	active, err := s.Sessions.GetActiveSession(ctx, player, gameType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, store.ErrSessionAlreadyActive(player, gameType)
	}

	log := s.log.WithFields(logrus.Fields{"game_type": gameType, "player": player, "value": paid.String()})

	resp, err := s.Settler.Settle(ctx, s.Settler.NewSettlementRequest(payload, header, resource))
	if err != nil {
		log.WithError(err).Warn("Settlement failed")
		return nil, err
	}
	if payment.Malformed(resp) {
		unreadable := payment.Unreadable(resp)
		log.WithFields(logrus.Fields{"status": resp.Status, "body": string(resp.Raw)}).Error("Facilitator reply could not be parsed")
		return nil, unreadable
	}
	if !payment.IsSuccess(resp) {
		rejected := payment.Rejected(resp)
		log.WithField("code", rejected.Code).Warn("Settlement rejected")
		return nil, rejected
	}
	tx := resp.Body.Transaction

	session, err := s.Sessions.CreateSession(ctx, gameType, player, tx.Hash, paid)
	if err != nil {
		log.WithError(err).WithField("tx_hash", tx.Hash).Error("Settled payment could not open a session")
		return nil, err
	}

	if s.Nonces != nil {
		_, err := s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{
			Nonce:         auth.Nonce,
			PlayerAddress: player,
			GameType:      gameType,
			SessionID:     session.ID,
			TxHash:        tx.Hash,
			BlockNumber:   int64(tx.BlockNumber),
		})
		if err != nil {
			log.WithError(err).WithField("session_id", session.ID).Error("Failed to record used nonce")
		}
	}

	if err := s.Pools.AddToPrizePool(ctx, gameType, paid, s.opts.PrizePoolPercentage); err != nil {
		log.WithError(err).WithField("session_id", session.ID).Error("Failed to credit prize pools")
	}

	log.WithFields(logrus.Fields{"session_id": session.ID, "tx_hash": tx.Hash}).Info("Session started")
	return &StartResult{Session: session, Transaction: tx}, nil
}

// replay answers a payment whose nonce was already settled. It returns nil, nil for a fresh nonce.
func (s *Service) replay(ctx context.Context, gameType models.GameType, player, nonce string) (*StartResult, error) {
	if s.Nonces == nil {
		return nil, nil
	}
	used, err := s.Nonces.GetUsedNonce(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if used == nil {
		return nil, nil
	}
	if used.GameType != gameType || !strings.EqualFold(used.PlayerAddress, player) {
		return nil, apperr.Conflict(apperr.CodePaymentReused, "payment nonce %s already paid for another session", nonce)
	}

	session, err := s.Sessions.GetSession(ctx, used.SessionID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"session_id": session.ID, "player": player, "tx_hash": used.TxHash}).Info("Replayed settled payment")
	return &StartResult{
		Session:     session,
		Transaction: &payment.Transaction{Hash: used.TxHash, BlockNumber: payment.BlockNumber(used.BlockNumber)},
		Replayed:    true,
	}, nil
}

// Rank is a player's standing on one period's board.
type Rank struct {
	PeriodDate string `json:"period_date"`
	Rank       int    `json:"rank"`
	Score      int64  `json:"score"`
}

type ScoreResult struct {
	Session *models.GameSession   `json:"session"`
	Ranks   map[period.Type]*Rank `json:"ranks"`
}

// SubmitScore completes an active session with score and records it on the leaderboards.
// Rank lookups are best effort once the session is completed.
func (s *Service) SubmitScore(ctx context.Context, sessionID uuid.UUID, score int64, player string) (*ScoreResult, error) {
	player = models.NormalizeAddress(player)
	if player == "" {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "player address is required")
	}

	session, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(session.PlayerAddress, player) {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "session %s does not belong to %s", sessionID, player)
	}
	if session.Status != models.SessionActive {
		return nil, store.ErrSessionNotActive(sessionID, session.Status)
	}

	now := s.Clock.Now()
	if session.Stale(now, s.opts.SessionTimeout) {
		if _, err := s.Sessions.ExpireSession(ctx, sessionID); err != nil {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("Failed to expire stale session")
		}
		return nil, apperr.Conflict(apperr.CodeSessionExpired, "session %s expired after %s", sessionID, s.opts.SessionTimeout)
	}

	if err := s.Validator.Validate(session, score, now); err != nil {
		return nil, err
	}

	completed, err := s.Sessions.CompleteSession(ctx, sessionID, score)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"session_id": sessionID, "game_type": completed.GameType, "score": score})
	result := &ScoreResult{Session: completed, Ranks: map[period.Type]*Rank{}}

	if err := s.Leaderboard.AddEntry(ctx, sessionID, completed.GameType, player, score); err != nil {
		log.WithError(err).Error("Failed to record leaderboard entry")
		return result, nil
	}
	if s.Cache != nil {
		s.Cache.Invalidate(completed.GameType)
	}

	result.Ranks = s.ranks(ctx, completed.GameType, player, now)
	log.Info("Score submitted")

	if s.Events != nil {
		ev := LeaderboardEvent{
			Type:          EventLeaderboardUpdate,
			GameType:      completed.GameType,
			PlayerAddress: player,
			Score:         score,
			SessionID:     sessionID,
			Ranks:         make(map[period.Type]int, len(result.Ranks)),
			Timestamp:     now.UTC(),
		}
		for pt, r := range result.Ranks {
			ev.Ranks[pt] = r.Rank
		}
		if err := s.Events.PublishLeaderboardUpdate(ctx, ev); err != nil {
			log.WithError(err).Warn("Failed to publish leaderboard update")
		}
	}
	return result, nil
}

func (s *Service) ranks(ctx context.Context, gameType models.GameType, player string, now time.Time) map[period.Type]*Rank {
	periods := []period.Type{period.Daily, period.Weekly, period.AllTime}
	found := make([]*Rank, len(periods))

	g, gctx := errgroup.WithContext(ctx)
	for i, pt := range periods {
		i, pt := i, pt
		g.Go(func() error {
			date := period.ID(pt, now)
			entry, err := s.Leaderboard.GetPlayerRank(gctx, gameType, player, pt, date)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"game_type": gameType, "period": pt}).Warn("Rank lookup failed")
				return nil
			}
			found[i] = &Rank{PeriodDate: date, Rank: entry.Rank, Score: entry.Score}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[period.Type]*Rank, len(periods))
	for i, pt := range periods {
		if found[i] != nil {
			out[pt] = found[i]
		}
	}
	return out
}

// Catalog lists the games on offer.
func (s *Service) Catalog() []Game { return Catalog() }

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return s.Sessions.GetSession(ctx, id)
}

// PlayerStats summarizes every session player has paid for.
func (s *Service) PlayerStats(ctx context.Context, player string) (*models.PlayerStats, error) {
	player = models.NormalizeAddress(player)
	if player == "" {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "player address is required")
	}
	return s.Sessions.PlayerStats(ctx, player)
}

func (s *Service) PlayerSessions(ctx context.Context, player string, limit int) ([]models.GameSession, error) {
	player = models.NormalizeAddress(player)
	if player == "" {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "player address is required")
	}
	return s.Sessions.ListPlayerSessions(ctx, player, limit)
}
