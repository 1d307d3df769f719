// Package storetest holds invariant suites shared by every store adapter.
// Each adapter's tests call Run with a factory that builds fresh, empty stores.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/usdc"
)

// Factory returns empty stores driven by clock.
type Factory func(t *testing.T, clock clockwork.Clock) store.Stores

// Start is the instant every suite begins at: Friday 2026-10-16 12:00 UTC.
var Start = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

func Run(t *testing.T, f Factory) {
	t.Run("Sessions", func(t *testing.T) { RunSessions(t, f) })
	t.Run("Leaderboard", func(t *testing.T) { RunLeaderboard(t, f) })
	t.Run("PrizePools", func(t *testing.T) { RunPrizePools(t, f) })
	t.Run("Nonces", func(t *testing.T) { RunNonces(t, f) })
}

func setup(t *testing.T, f Factory) (store.Stores, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(Start)
	return f(t, clock), clock
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func RunSessions(t *testing.T, f Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s, _ := setup(t, f)

		created, err := s.Sessions.CreateSession(ctx, models.GameSnake, "0xAbC0000000000000000000000000000000000001", txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, created.Status)
		assert.Equal(t, "0xabc0000000000000000000000000000000000001", created.PlayerAddress)
		assert.Nil(t, created.Score)
		assert.True(t, created.CreatedAt.Equal(Start))

		got, err := s.Sessions.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, models.GameSnake, got.GameType)
		assert.Equal(t, usdc.Amount(10_000), got.AmountPaid)
		assert.Equal(t, txHash(1), got.PaymentTxHash)
		assert.Nil(t, got.Score)
		assert.Nil(t, got.CompletedAt)
		assert.True(t, got.CreatedAt.Equal(Start))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s, _ := setup(t, f)
		_, err := s.Sessions.GetSession(ctx, uuid.New())
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("PaymentHashIsSingleUse", func(t *testing.T) {
		s, _ := setup(t, f)

		first, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(7), usdc.MustParse("0.01"))
		require.NoError(t, err)

		_, err = s.Sessions.CreateSession(ctx, models.GameTetris, bob, txHash(7), usdc.MustParse("0.01"))
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Equal(t, apperr.CodePaymentReused, apperr.CodeOf(err))

		bobs, err := s.Sessions.ListPlayerSessions(ctx, bob, 10)
		require.NoError(t, err)
		assert.Empty(t, bobs)

		still, err := s.Sessions.GetSession(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, alice, still.PlayerAddress)
	})

	t.Run("ConcurrentPaymentHashReuse", func(t *testing.T) {
		s, _ := setup(t, f)

		players := []string{alice, bob, carol, "0x4444444444444444444444444444444444444444", "0x5555555555555555555555555555555555555555"}
		var wg sync.WaitGroup
		errs := make([]error, len(players))
		for i, p := range players {
			wg.Add(1)
			go func(i int, p string) {
				defer wg.Done()
				_, errs[i] = s.Sessions.CreateSession(ctx, models.GameSnake, p, txHash(99), usdc.MustParse("0.01"))
			}(i, p)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperr.Is(err, apperr.KindConflict), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("OneActiveSessionPerGame", func(t *testing.T) {
		s, _ := setup(t, f)

		_, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)

		_, err = s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(2), usdc.MustParse("0.01"))
		assert.Equal(t, apperr.CodeSessionActive, apperr.CodeOf(err))

		_, err = s.Sessions.CreateSession(ctx, models.GameTetris, alice, txHash(3), usdc.MustParse("0.01"))
		assert.NoError(t, err)
	})

	t.Run("StaleActiveSessionIsReplaced", func(t *testing.T) {
		s, clock := setup(t, f)

		old, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)

		clock.Advance(16 * time.Minute)
		fresh, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(2), usdc.MustParse("0.01"))
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, fresh.Status)

		got, err := s.Sessions.GetSession(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.Status)
		assert.Nil(t, got.Score)
	})

	t.Run("CompleteThenExpireIsNoop", func(t *testing.T) {
		s, clock := setup(t, f)

		session, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)

		clock.Advance(90 * time.Second)
		done, err := s.Sessions.CompleteSession(ctx, session.ID, 120)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, done.Status)
		require.NotNil(t, done.Score)
		assert.Equal(t, int64(120), *done.Score)
		require.NotNil(t, done.GameDurationMs)
		assert.Equal(t, int64(90_000), *done.GameDurationMs)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, done.CompletedAt.Equal(Start.Add(90*time.Second)))

		expired, err := s.Sessions.ExpireSession(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, expired)

		got, err := s.Sessions.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, got.Status)
		require.NotNil(t, got.Score)
		assert.Equal(t, int64(120), *got.Score)
	})

	t.Run("CompleteRejectsNonActive", func(t *testing.T) {
		s, _ := setup(t, f)

		session, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)
		_, err = s.Sessions.CompleteSession(ctx, session.ID, 10)
		require.NoError(t, err)

		_, err = s.Sessions.CompleteSession(ctx, session.ID, 500)
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		_, err = s.Sessions.CompleteSession(ctx, uuid.New(), 10)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		_, err = s.Sessions.CompleteSession(ctx, session.ID, -1)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		other, err := s.Sessions.CreateSession(ctx, models.GameTetris, bob, txHash(2), usdc.MustParse("0.01"))
		require.NoError(t, err)
		ok, err := s.Sessions.ExpireSession(ctx, other.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.Sessions.CompleteSession(ctx, other.ID, 10)
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		got, err := s.Sessions.GetSession(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.Status)
		assert.Nil(t, got.Score)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("ExpireMissingIsFalse", func(t *testing.T) {
		s, _ := setup(t, f)
		ok, err := s.Sessions.ExpireSession(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetActiveSession", func(t *testing.T) {
		s, clock := setup(t, f)

		none, err := s.Sessions.GetActiveSession(ctx, alice, models.GameSnake)
		require.NoError(t, err)
		assert.Nil(t, none)

		session, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)

		active, err := s.Sessions.GetActiveSession(ctx, "0x1111111111111111111111111111111111111111", models.GameSnake)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, session.ID, active.ID)

		clock.Advance(15*time.Minute + time.Second)
		stale, err := s.Sessions.GetActiveSession(ctx, alice, models.GameSnake)
		require.NoError(t, err)
		assert.Nil(t, stale)

		got, err := s.Sessions.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.Status)
	})

	t.Run("ExpireStaleSessions", func(t *testing.T) {
		s, clock := setup(t, f)

		a, err := s.Sessions.CreateSession(ctx, models.GameSnake, alice, txHash(1), usdc.MustParse("0.01"))
		require.NoError(t, err)
		b, err := s.Sessions.CreateSession(ctx, models.GameSnake, bob, txHash(2), usdc.MustParse("0.01"))
		require.NoError(t, err)
		done, err := s.Sessions.CreateSession(ctx, models.GameTetris, bob, txHash(3), usdc.MustParse("0.01"))
		require.NoError(t, err)
		_, err = s.Sessions.CompleteSession(ctx, done.ID, 40)
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		c, err := s.Sessions.CreateSession(ctx, models.GameSnake, carol, txHash(4), usdc.MustParse("0.01"))
		require.NoError(t, err)

		clock.Advance(25 * time.Minute)
		n, err := s.Sessions.ExpireStaleSessions(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for id, want := range map[uuid.UUID]models.SessionStatus{
			a.ID:    models.SessionExpired,
			b.ID:    models.SessionExpired,
			c.ID:    models.SessionActive,
			done.ID: models.SessionCompleted,
		} {
			got, err := s.Sessions.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got.Status, "session %s", id)
		}

		again, err := s.Sessions.ExpireStaleSessions(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, again)
	})

	t.Run("ListPlayerSessionsNewestFirst", func(t *testing.T) {
		s, clock := setup(t, f)

		var ids []uuid.UUID
		for i, g := range []models.GameType{models.GameSnake, models.GameTetris, models.GamePong} {
			session, err := s.Sessions.CreateSession(ctx, g, alice, txHash(i+1), usdc.MustParse("0.01"))
			require.NoError(t, err)
			ids = append(ids, session.ID)
			clock.Advance(time.Second)
		}

		sessions, err := s.Sessions.ListPlayerSessions(ctx, alice, 2)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, ids[2], sessions[0].ID)
		assert.Equal(t, ids[1], sessions[1].ID)
	})

	t.Run("PlayerStats", func(t *testing.T) {
		s, clock := setup(t, f)

		empty, err := s.Sessions.PlayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, empty.TotalGames)
		assert.Nil(t, empty.FirstPlayed)
		assert.Empty(t, empty.Games)

		plays := []struct {
			game  models.GameType
			score int64
		}{
			{models.GameTetris, 300},
			{models.GameSnake, 40},
			{models.GameSnake, 90},
			{models.GameSnake, -1},
		}
		for i, p := range plays {
			session, err := s.Sessions.CreateSession(ctx, p.game, "0x1111111111111111111111111111111111111111", txHash(i+1), usdc.MustParse("0.01"))
			require.NoError(t, err)
			if p.score >= 0 {
				_, err = s.Sessions.CompleteSession(ctx, session.ID, p.score)
				require.NoError(t, err)
			}
			clock.Advance(time.Minute)
		}
		_, err = s.Sessions.CreateSession(ctx, models.GamePong, bob, txHash(50), usdc.MustParse("0.05"))
		require.NoError(t, err)

		stats, err := s.Sessions.PlayerStats(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		assert.Equal(t, alice, stats.PlayerAddress)
		assert.Equal(t, int64(4), stats.TotalGames)
		assert.Equal(t, int64(3), stats.CompletedGames)
		assert.Equal(t, usdc.MustParse("0.04"), stats.TotalSpent)
		require.NotNil(t, stats.FirstPlayed)
		require.NotNil(t, stats.LastPlayed)
		assert.True(t, stats.FirstPlayed.Equal(Start))
		assert.True(t, stats.LastPlayed.Equal(Start.Add(3*time.Minute)))
		require.NotNil(t, stats.FavoriteGame)
		assert.Equal(t, models.GameSnake, *stats.FavoriteGame)

		require.Len(t, stats.Games, 2)
		snake, tetris := stats.Games[0], stats.Games[1]
		assert.Equal(t, models.GameSnake, snake.GameType)
		assert.Equal(t, int64(3), snake.TotalGames)
		assert.Equal(t, int64(2), snake.CompletedGames)
		require.NotNil(t, snake.BestScore)
		assert.Equal(t, int64(90), *snake.BestScore)
		assert.Equal(t, models.GameTetris, tetris.GameType)
		assert.Equal(t, int64(300), *tetris.BestScore)
	})
}

func RunLeaderboard(t *testing.T, f Factory) {
	ctx := context.Background()
	today := period.DailyID(Start)
	week := period.WeeklyID(Start)

	t.Run("HighestScoreWins", func(t *testing.T) {
		s, clock := setup(t, f)

		for _, score := range []int64{10, 50, 30} {
			require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, score))
			clock.Advance(time.Second)
		}

		for _, ref := range []struct {
			pt   period.Type
			date string
		}{{period.Daily, today}, {period.Weekly, week}, {period.AllTime, period.AllTimeID}} {
			top, err := s.Leaderboard.GetTopScores(ctx, models.GameSnake, ref.pt, ref.date, 10)
			require.NoError(t, err)
			require.Len(t, top, 1)
			assert.Equal(t, int64(50), top[0].Score)

			rank, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, ref.pt, ref.date)
			require.NoError(t, err)
			assert.Equal(t, 1, rank.Rank)
			assert.Equal(t, int64(50), rank.Score)
			assert.True(t, rank.AchievedAt.Equal(Start.Add(time.Second)))
		}
	})

	t.Run("TiesBreakByEarliestSubmission", func(t *testing.T) {
		s, clock := setup(t, f)

		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, carol, 100))
		clock.Advance(time.Second)
		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, 100))
		clock.Advance(time.Second)
		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, bob, 200))

		for i := 0; i < 3; i++ {
			top, err := s.Leaderboard.GetTopScores(ctx, models.GameSnake, period.Daily, today, 10)
			require.NoError(t, err)
			require.Len(t, top, 3)
			assert.Equal(t, []string{bob, carol, alice}, []string{top[0].PlayerAddress, top[1].PlayerAddress, top[2].PlayerAddress})
			assert.Equal(t, []int{1, 2, 3}, []int{top[0].Rank, top[1].Rank, top[2].Rank})
		}

		rank, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, 3, rank.Rank)

		rank, err = s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, carol, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, 2, rank.Rank)
	})

	t.Run("LimitKeepsEarliestTie", func(t *testing.T) {
		s, clock := setup(t, f)

		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, bob, 300))
		clock.Advance(time.Second)
		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, 100))
		clock.Advance(time.Second)
		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, carol, 100))

		top, err := s.Leaderboard.GetTopScores(ctx, models.GameSnake, period.Daily, today, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, bob, top[0].PlayerAddress)
		assert.Equal(t, alice, top[1].PlayerAddress)
	})

	t.Run("PeriodsAreIndependent", func(t *testing.T) {
		s, clock := setup(t, f)

		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, 80))
		clock.Advance(24 * time.Hour)
		require.NoError(t, s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, 20))

		yesterday, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, int64(80), yesterday.Score)

		current, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, period.Daily, period.DailyID(Start.Add(24*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(20), current.Score)

		allTime, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, period.AllTime, period.AllTimeID)
		require.NoError(t, err)
		assert.Equal(t, int64(80), allTime.Score)

		other, err := s.Leaderboard.GetTopScores(ctx, models.GameTetris, period.AllTime, period.AllTimeID, 10)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("PlayerNotRanked", func(t *testing.T) {
		s, _ := setup(t, f)
		_, err := s.Leaderboard.GetPlayerRank(ctx, models.GameSnake, alice, period.Daily, today)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		s, _ := setup(t, f)
		_, err := s.Leaderboard.GetTopScores(ctx, models.GameSnake, period.Weekly, today, 10)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		err = s.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, alice, -5)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func RunPrizePools(t *testing.T, f Factory) {
	ctx := context.Background()
	today := period.DailyID(Start)
	week := period.WeeklyID(Start)

	t.Run("GetOrCreate", func(t *testing.T) {
		s, _ := setup(t, f)

		_, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		pool, err := s.Pools.GetOrCreatePool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, models.PoolActive, pool.Status)
		assert.Equal(t, usdc.Amount(0), pool.TotalAmount)
		assert.Zero(t, pool.TotalGames)
		assert.Nil(t, pool.WinnerAddress)

		again, err := s.Pools.GetOrCreatePool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.True(t, pool.CreatedAt.Equal(again.CreatedAt))

		_, err = s.Pools.GetOrCreatePool(ctx, models.GameSnake, period.AllTime, period.AllTimeID)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("AddToPrizePoolCreditsDailyAndWeekly", func(t *testing.T) {
		s, _ := setup(t, f)

		require.NoError(t, s.Pools.AddToPrizePool(ctx, models.GameSnake, usdc.MustParse("0.01"), decimal.NewFromInt(70)))

		daily, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, "0.007", daily.TotalAmount.Decimal().String())
		assert.Equal(t, int64(1), daily.TotalGames)

		weekly, err := s.Pools.GetPool(ctx, models.GameSnake, period.Weekly, week)
		require.NoError(t, err)
		assert.Equal(t, usdc.Amount(7_000), weekly.TotalAmount)
		assert.Equal(t, int64(1), weekly.TotalGames)

		err = s.Pools.AddToPrizePool(ctx, models.GameSnake, usdc.MustParse("0.01"), decimal.NewFromInt(101))
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("ConcurrentAddFundsLosesNothing", func(t *testing.T) {
		s, _ := setup(t, f)

		const workers = 2
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Pools.AddFunds(ctx, models.GameTetris, period.Daily, today, usdc.MustParse("0.005"))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		pool, err := s.Pools.GetPool(ctx, models.GameTetris, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, usdc.MustParse("0.010"), pool.TotalAmount)
		assert.Equal(t, int64(2), pool.TotalGames)
	})

	t.Run("ManyConcurrentAddFunds", func(t *testing.T) {
		s, _ := setup(t, f)

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Pools.AddToPrizePool(ctx, models.GamePong, usdc.MustParse("0.01"), decimal.NewFromInt(70)))
			}()
		}
		wg.Wait()

		pool, err := s.Pools.GetPool(ctx, models.GamePong, period.Weekly, week)
		require.NoError(t, err)
		assert.Equal(t, usdc.Amount(workers*7_000), pool.TotalAmount)
		assert.Equal(t, int64(workers), pool.TotalGames)
	})

	t.Run("FinalizeEmptyPool", func(t *testing.T) {
		s, _ := setup(t, f)

		_, err := s.Pools.GetOrCreatePool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)

		changed, err := s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, nil)
		require.NoError(t, err)
		assert.True(t, changed)

		pool, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, models.PoolFinalized, pool.Status)
		assert.Nil(t, pool.WinnerAddress)
		require.NotNil(t, pool.FinalizedAt)
		assert.Zero(t, pool.TotalGames)
	})

	t.Run("FinalizeIsIdempotent", func(t *testing.T) {
		s, clock := setup(t, f)

		_, err := s.Pools.AddFunds(ctx, models.GameSnake, period.Daily, today, usdc.MustParse("0.007"))
		require.NoError(t, err)

		winner := "0xAAAA000000000000000000000000000000000001"
		changed, err := s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, &winner)
		require.NoError(t, err)
		assert.True(t, changed)
		first, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		other := bob
		changed, err = s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, &other)
		require.NoError(t, err)
		assert.False(t, changed)

		second, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		require.NotNil(t, second.WinnerAddress)
		assert.Equal(t, "0xaaaa000000000000000000000000000000000001", *second.WinnerAddress)
		assert.True(t, first.FinalizedAt.Equal(*second.FinalizedAt))
		assert.Equal(t, first.TotalAmount, second.TotalAmount)
	})

	t.Run("FinalizeMissingPoolIsNoop", func(t *testing.T) {
		s, _ := setup(t, f)

		changed, err := s.Pools.FinalizePool(ctx, models.GameBreakout, period.Weekly, week, nil)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = s.Pools.GetPool(ctx, models.GameBreakout, period.Weekly, week)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("FundsOnlyWhileActive", func(t *testing.T) {
		s, _ := setup(t, f)

		_, err := s.Pools.AddFunds(ctx, models.GameSnake, period.Daily, today, usdc.MustParse("0.005"))
		require.NoError(t, err)
		_, err = s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, nil)
		require.NoError(t, err)

		_, err = s.Pools.AddFunds(ctx, models.GameSnake, period.Daily, today, usdc.MustParse("0.005"))
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		// the weekly pool must not be credited when the daily one refuses
		err = s.Pools.AddToPrizePool(ctx, models.GameSnake, usdc.MustParse("0.01"), decimal.NewFromInt(70))
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		_, err = s.Pools.GetPool(ctx, models.GameSnake, period.Weekly, week)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		pool, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, usdc.MustParse("0.005"), pool.TotalAmount)
		assert.Equal(t, int64(1), pool.TotalGames)
	})

	t.Run("MarkAsPaid", func(t *testing.T) {
		s, _ := setup(t, f)

		_, err := s.Pools.MarkAsPaid(ctx, models.GameSnake, period.Daily, today, txHash(1))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		_, err = s.Pools.AddFunds(ctx, models.GameSnake, period.Daily, today, usdc.MustParse("0.007"))
		require.NoError(t, err)

		_, err = s.Pools.MarkAsPaid(ctx, models.GameSnake, period.Daily, today, txHash(1))
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		winner := alice
		_, err = s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, &winner)
		require.NoError(t, err)

		paid, err := s.Pools.MarkAsPaid(ctx, models.GameSnake, period.Daily, today, txHash(1))
		require.NoError(t, err)
		assert.Equal(t, models.PoolPaid, paid.Status)
		require.NotNil(t, paid.PayoutTxHash)
		assert.Equal(t, txHash(1), *paid.PayoutTxHash)
		assert.NotNil(t, paid.PaidAt)

		_, err = s.Pools.MarkAsPaid(ctx, models.GameSnake, period.Daily, today, txHash(2))
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		changed, err := s.Pools.FinalizePool(ctx, models.GameSnake, period.Daily, today, nil)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.Pools.GetPool(ctx, models.GameSnake, period.Daily, today)
		require.NoError(t, err)
		assert.Equal(t, models.PoolPaid, got.Status)
		require.NotNil(t, got.WinnerAddress)
		assert.Equal(t, alice, *got.WinnerAddress)
	})

	t.Run("ListPoolsNewestFirst", func(t *testing.T) {
		s, _ := setup(t, f)

		for _, d := range []string{"2026-10-14", "2026-10-16", "2026-10-15"} {
			_, err := s.Pools.GetOrCreatePool(ctx, models.GameSnake, period.Daily, d)
			require.NoError(t, err)
		}
		_, err := s.Pools.GetOrCreatePool(ctx, models.GameTetris, period.Daily, "2026-10-17")
		require.NoError(t, err)

		pools, err := s.Pools.ListPools(ctx, models.GameSnake, period.Daily, 2)
		require.NoError(t, err)
		require.Len(t, pools, 2)
		assert.Equal(t, "2026-10-16", pools[0].PeriodDate)
		assert.Equal(t, "2026-10-15", pools[1].PeriodDate)
	})
}

func RunNonces(t *testing.T, f Factory) {
	ctx := context.Background()
	nonce := "0x" + fmt.Sprintf("%064x", 42)

	t.Run("MarkOnce", func(t *testing.T) {
		s, _ := setup(t, f)

		missing, err := s.Nonces.GetUsedNonce(ctx, nonce)
		require.NoError(t, err)
		assert.Nil(t, missing)

		sessionID := uuid.New()
		recorded, err := s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{
			Nonce:         strings.ToUpper(nonce[2:]),
			PlayerAddress: "0xAAAA000000000000000000000000000000000001",
			GameType:      models.GameSnake,
			SessionID:     sessionID,
			TxHash:        "0xABC",
			BlockNumber:   436,
		})
		require.NoError(t, err)
		assert.True(t, recorded)

		again, err := s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: nonce[2:], SessionID: uuid.New(), GameType: models.GamePong})
		require.NoError(t, err)
		assert.False(t, again)

		got, err := s.Nonces.GetUsedNonce(ctx, nonce[2:])
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sessionID, got.SessionID)
		assert.Equal(t, models.GameSnake, got.GameType)
		assert.Equal(t, "0xaaaa000000000000000000000000000000000001", got.PlayerAddress)
		assert.Equal(t, "0xabc", got.TxHash)
		assert.Equal(t, int64(436), got.BlockNumber)
		assert.True(t, got.UsedAt.Equal(Start))
	})

	t.Run("RequiresNonce", func(t *testing.T) {
		s, _ := setup(t, f)
		_, err := s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: "  ", SessionID: uuid.New()})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("PurgeOld", func(t *testing.T) {
		s, clock := setup(t, f)

		_, err := s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: "0x01", SessionID: uuid.New(), GameType: models.GameSnake})
		require.NoError(t, err)
		clock.Advance(48 * time.Hour)
		_, err = s.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: "0x02", SessionID: uuid.New(), GameType: models.GameSnake})
		require.NoError(t, err)

		n, err := s.Nonces.PurgeUsedNonces(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		old, err := s.Nonces.GetUsedNonce(ctx, "0x01")
		require.NoError(t, err)
		assert.Nil(t, old)
		kept, err := s.Nonces.GetUsedNonce(ctx, "0x02")
		require.NoError(t, err)
		assert.NotNil(t, kept)

		n, err = s.Nonces.PurgeUsedNonces(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Ping", func(t *testing.T) {
		s, _ := setup(t, f)
		require.NotNil(t, s.Ping)
		assert.NoError(t, s.Ping(ctx))
	})
}
