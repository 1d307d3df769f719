package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/leaderboard"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/payment"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/store/redisstore"
	"github.com/x402arcade/backend/internal/usdc"
)

const (
	arcadeWallet = "0x2222222222222222222222222222222222222222"
	alice        = "0x1111111111111111111111111111111111111111"
	bob          = "0x3333333333333333333333333333333333333333"
	resource     = "/api/v1/play/snake"
)

var start = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []LeaderboardEvent
}

func (p *recordingPublisher) PublishLeaderboardUpdate(_ context.Context, ev LeaderboardEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// facilitator fakes the settle endpoint; by default the tx hash echoes the nonce.
type facilitator struct {
	calls   atomic.Int32
	handler http.HandlerFunc
}

func (f *facilitator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.handler != nil {
		f.handler(w, r)
		return
	}
	var req payment.SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(payment.SettlementBody{
		Success:     true,
		Transaction: &payment.Transaction{Hash: req.Payload.Authorization.Nonce, BlockNumber: 1},
	})
}

type fixture struct {
	svc    *Service
	stores store.Stores
	clock  *clockwork.FakeClock
	fac    *facilitator
	events *recordingPublisher
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fac := &facilitator{}
	srv := httptest.NewServer(fac)
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(start)
	stores := redisstore.New(rdb, clock, store.Options{}, logger.Discard())
	client := payment.NewClient(&config.Config{
		FacilitatorURL:     srv.URL,
		FacilitatorTimeout: timeout,
		ChainID:            338,
		TokenAddress:       "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0",
	}, logger.Discard())
	events := &recordingPublisher{}

	svc := NewService(Deps{
		Sessions:    stores.Sessions,
		Leaderboard: stores.Leaderboard,
		Pools:       stores.Pools,
		Nonces:      stores.Nonces,
		Settler:     client,
		Lock:        payment.NewPendingLock(rdb, time.Minute),
		Cache:       leaderboard.NewCache(stores.Leaderboard, leaderboard.Config{}, clock, logger.Discard()),
		Events:      events,
		Clock:       clock,
		Log:         logger.Discard(),
	}, Options{
		ArcadeWallet:        arcadeWallet,
		PrizePoolPercentage: decimal.NewFromInt(70),
		SessionTimeout:      15 * time.Minute,
	})

	return &fixture{svc: svc, stores: stores, clock: clock, fac: fac, events: events}
}

func signedHeader(t *testing.T, from string, value usdc.Amount, nonce int) string {
	t.Helper()
	header, err := payment.EncodeHeader(&payment.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "cronos-testnet",
		Payload: payment.ExactPayload{
			Signature: "0x" + strings.Repeat("cd", 65),
			Authorization: payment.Authorization{
				From:        from,
				To:          arcadeWallet,
				Value:       fmt.Sprint(value.Units()),
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       fmt.Sprintf("0x%064x", nonce),
			},
		},
	})
	require.NoError(t, err)
	return header
}

func TestPlayAndSubmitScore(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	session := res.Session
	assert.Equal(t, models.SessionActive, session.Status)
	assert.Equal(t, usdc.MustParse("0.01"), session.AmountPaid)
	assert.Equal(t, fmt.Sprintf("0x%064x", 1), session.PaymentTxHash)
	assert.Equal(t, int32(1), f.fac.calls.Load())

	pool, err := f.stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(start))
	require.NoError(t, err)
	assert.Equal(t, usdc.MustParse("0.007"), pool.TotalAmount)
	assert.Equal(t, int64(1), pool.TotalGames)

	weekly, err := f.stores.Pools.GetPool(ctx, models.GameSnake, period.Weekly, period.WeeklyID(start))
	require.NoError(t, err)
	assert.Equal(t, usdc.MustParse("0.007"), weekly.TotalAmount)

	f.clock.Advance(time.Minute)
	scored, err := f.svc.SubmitScore(ctx, session.ID, 120, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, scored.Session.Status)
	require.NotNil(t, scored.Session.Score)
	assert.Equal(t, int64(120), *scored.Session.Score)

	require.Len(t, scored.Ranks, 3)
	assert.Equal(t, 1, scored.Ranks[period.Daily].Rank)
	assert.Equal(t, int64(120), scored.Ranks[period.AllTime].Score)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, EventLeaderboardUpdate, ev.Type)
	assert.Equal(t, 1, ev.Ranks[period.Weekly])
}

func TestStartSessionRejectsUnderpayment(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.svc.StartSession(context.Background(), models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.009"), 1), resource)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, int32(0), f.fac.calls.Load())
}

func TestStartSessionRejectsUnknownGame(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.svc.StartSession(context.Background(), "chess", signedHeader(t, alice, usdc.MustParse("1"), 1), resource)
	assert.Equal(t, apperr.CodeInvalidGame, apperr.CodeOf(err))
}

func TestStartSessionRefusesSecondActiveSession(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)

	_, err = f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 2), resource)
	assert.Equal(t, apperr.CodeSessionActive, apperr.CodeOf(err))
	assert.Equal(t, int32(1), f.fac.calls.Load(), "no second settlement")

	// A different game is independent.
	_, err = f.svc.StartSession(ctx, models.GameTetris, signedHeader(t, alice, usdc.MustParse("0.02"), 3), "/api/v1/play/tetris")
	assert.NoError(t, err)
}

func TestStartSessionSettlementRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fac.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INSUFFICIENT_FUNDS","message":"balance too low"}}`))
	}
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	var terr *payment.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, payment.ReasonRejected, terr.Reason)
	assert.Equal(t, "INSUFFICIENT_FUNDS", terr.Code)

	active, err := f.stores.Sessions.GetActiveSession(ctx, alice, models.GameSnake)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartSessionTimeoutLeavesNoState(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.fac.handler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	var terr *payment.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, payment.ReasonTimeout, terr.Reason)
	assert.Equal(t, 50*time.Millisecond, terr.Timeout)

	active, err := f.stores.Sessions.GetActiveSession(ctx, alice, models.GameSnake)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(start))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// The pending lock was released, so a retry with the same authorization settles.
	f.fac.handler = nil
	_, err = f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	assert.NoError(t, err)
}

func TestStartSessionPaymentHashReused(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fac.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transaction":{"hash":"0xfeed","blockNumber":7}}`))
	}
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)

	_, err = f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, bob, usdc.MustParse("0.01"), 2), resource)
	assert.Equal(t, apperr.CodePaymentReused, apperr.CodeOf(err))

	pool, err := f.stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(start))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TotalGames)
}

func TestStartSessionReplayReturnsStoredResult(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	header := signedHeader(t, alice, usdc.MustParse("0.01"), 1)

	first, err := f.svc.StartSession(ctx, models.GameSnake, header, resource)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := f.svc.StartSession(ctx, models.GameSnake, header, resource)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, first.Transaction.Hash, again.Transaction.Hash)
	assert.Equal(t, payment.BlockNumber(1), again.Transaction.BlockNumber)

	f.clock.Advance(time.Minute)
	_, err = f.svc.SubmitScore(ctx, first.Session.ID, 50, alice)
	require.NoError(t, err)

	// After the session completes the replay still settles nothing and shows the final state.
	done, err := f.svc.StartSession(ctx, models.GameSnake, header, resource)
	require.NoError(t, err)
	assert.True(t, done.Replayed)
	assert.Equal(t, models.SessionCompleted, done.Session.Status)

	assert.Equal(t, int32(1), f.fac.calls.Load())
	pool, err := f.stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(start))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.TotalGames)
}

func TestStartSessionNonceSpentOnAnotherGame(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameTetris, signedHeader(t, alice, usdc.MustParse("0.02"), 9), "/api/v1/play/tetris")
	require.NoError(t, err)

	_, err = f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.02"), 9), resource)
	assert.Equal(t, apperr.CodePaymentReused, apperr.CodeOf(err))
	assert.Equal(t, int32(1), f.fac.calls.Load())
}

func TestStartSessionUnreadableReplyIsNotARejection(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fac.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transaction":`))
	}
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	var terr *payment.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, payment.ReasonFacilitator, terr.Reason)
	assert.Equal(t, "FACILITATOR_ERROR", apperr.CodeOf(err))

	active, err := f.stores.Sessions.GetActiveSession(ctx, alice, models.GameSnake)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartSessionAcceptsHexBlockNumber(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fac.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transaction":{"hash":"0xabc","blockNumber":"0x1b4"}}`))
	}

	res, err := f.svc.StartSession(context.Background(), models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.Session.PaymentTxHash)
	assert.Equal(t, payment.BlockNumber(436), res.Transaction.BlockNumber)
}

type failingPools struct {
	store.PrizePoolStore
}

func (failingPools) AddToPrizePool(context.Context, models.GameType, usdc.Amount, decimal.Decimal) error {
	return errors.New("pool backend unavailable")
}

func TestStartSessionSurvivesPoolCreditFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.svc.Pools = failingPools{f.stores.Pools}
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, res.Session.Status)

	stored, err := f.stores.Sessions.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, stored.Status)

	_, err = f.stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(start))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

// failingLeaderboard fails AddEntry when addErr is set and rank lookups for the listed periods.
type failingLeaderboard struct {
	store.LeaderboardStore
	addErr     error
	rankPeriod map[period.Type]bool
}

func (l failingLeaderboard) AddEntry(ctx context.Context, sessionID uuid.UUID, gameType models.GameType, player string, score int64) error {
	if l.addErr != nil {
		return l.addErr
	}
	return l.LeaderboardStore.AddEntry(ctx, sessionID, gameType, player, score)
}

func (l failingLeaderboard) GetPlayerRank(ctx context.Context, gameType models.GameType, player string, pt period.Type, date string) (*models.LeaderboardEntry, error) {
	if l.rankPeriod[pt] {
		return nil, errors.New("rank lookup failed")
	}
	return l.LeaderboardStore.GetPlayerRank(ctx, gameType, player, pt, date)
}

func TestSubmitScoreSurvivesLeaderboardWriteFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.svc.Leaderboard = failingLeaderboard{LeaderboardStore: f.stores.Leaderboard, addErr: errors.New("leaderboard down")}
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	scored, err := f.svc.SubmitScore(ctx, res.Session.ID, 120, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, scored.Session.Status)
	assert.Empty(t, scored.Ranks)
	assert.Empty(t, f.events.events)

	stored, err := f.stores.Sessions.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	require.NotNil(t, stored.Score)
	assert.Equal(t, int64(120), *stored.Score)
}

func TestSubmitScoreOmitsFailedRankLookups(t *testing.T) {
	f := newFixture(t, time.Second)
	f.svc.Leaderboard = failingLeaderboard{
		LeaderboardStore: f.stores.Leaderboard,
		rankPeriod:       map[period.Type]bool{period.Weekly: true},
	}
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	scored, err := f.svc.SubmitScore(ctx, res.Session.ID, 120, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, scored.Session.Status)
	require.Len(t, scored.Ranks, 2)
	assert.NotContains(t, scored.Ranks, period.Weekly)
	assert.Equal(t, 1, scored.Ranks[period.Daily].Rank)
	assert.Equal(t, 1, scored.Ranks[period.AllTime].Rank)

	require.Len(t, f.events.events, 1)
	assert.NotContains(t, f.events.events[0].Ranks, period.Weekly)
}

func TestPlayerStats(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.SubmitScore(ctx, res.Session.ID, 75, alice)
	require.NoError(t, err)

	stats, err := f.svc.PlayerStats(ctx, strings.ToUpper(alice[:2])+alice[2:])
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalGames)
	assert.Equal(t, usdc.MustParse("0.01"), stats.TotalSpent)
	require.Len(t, stats.Games, 1)
	assert.Equal(t, int64(75), *stats.Games[0].BestScore)

	_, err = f.svc.PlayerStats(ctx, " ")
	assert.Equal(t, apperr.CodeInvalidAddress, apperr.CodeOf(err))
}

func TestSubmitScoreRules(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)
	id := res.Session.ID
	f.clock.Advance(30 * time.Second)

	_, err = f.svc.SubmitScore(ctx, uuid.New(), 10, alice)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.SubmitScore(ctx, id, 10, bob)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.SubmitScore(ctx, id, 20_000, alice)
	assert.Equal(t, apperr.CodeInvalidScore, apperr.CodeOf(err))

	_, err = f.svc.SubmitScore(ctx, id, 5_000, alice)
	assert.Equal(t, apperr.CodeInvalidScore, apperr.CodeOf(err), "too fast for 30s of play")

	_, err = f.svc.SubmitScore(ctx, id, 200, alice)
	require.NoError(t, err)

	_, err = f.svc.SubmitScore(ctx, id, 300, alice)
	assert.Equal(t, apperr.CodeSessionNotActive, apperr.CodeOf(err))
}

func TestSubmitScoreOnStaleSessionExpiresIt(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, models.GameSnake, signedHeader(t, alice, usdc.MustParse("0.01"), 1), resource)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.SubmitScore(ctx, res.Session.ID, 100, alice)
	assert.Equal(t, apperr.CodeSessionExpired, apperr.CodeOf(err))
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	session, err := f.stores.Sessions.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, session.Status)
	assert.Nil(t, session.Score)
}

func TestBoundsValidator(t *testing.T) {
	v := BoundsValidator{}
	session := &models.GameSession{GameType: models.GamePong, CreatedAt: start}

	assert.NoError(t, v.Validate(session, 10, start.Add(10*time.Second)))
	assert.Error(t, v.Validate(session, -1, start.Add(time.Minute)))
	assert.Error(t, v.Validate(session, 101, start.Add(time.Hour)))
	assert.Error(t, v.Validate(session, 50, start.Add(10*time.Second)))
}

func TestCatalog(t *testing.T) {
	games := Catalog()
	require.Len(t, games, len(models.AllGameTypes))
	assert.Equal(t, models.GameSnake, games[0].Type)

	g, err := Parse("space-invaders")
	require.NoError(t, err)
	assert.Equal(t, usdc.MustParse("0.025"), g.Price)

	_, err = Parse("chess")
	assert.Equal(t, apperr.CodeInvalidGame, apperr.CodeOf(err))
}
