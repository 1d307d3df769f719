package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/leaderboard"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/store/redisstore"
	"github.com/x402arcade/backend/internal/usdc"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x3333333333333333333333333333333333333333"
)

// Sunday 2026-10-18, the last day of ISO week 42.
var sunday = time.Date(2026, 10, 18, 18, 0, 0, 0, time.UTC)

func jobFixture(t *testing.T, at time.Time) (*Jobs, store.Stores, *clockwork.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := clockwork.NewFakeClockAt(at)
	stores := redisstore.New(rdb, clock, store.Options{}, logger.Discard())
	jobs := &Jobs{
		Sessions:       stores.Sessions,
		Leaderboard:    stores.Leaderboard,
		Pools:          stores.Pools,
		Nonces:         stores.Nonces,
		Cache:          leaderboard.NewCache(stores.Leaderboard, leaderboard.Config{}, clock, logger.Discard()),
		SessionMaxAge:  30 * time.Minute,
		NonceRetention: 24 * time.Hour,
		Clock:          clock,
		Log:            logger.Discard(),
	}
	jobs.Definitions(Schedules{})
	return jobs, stores, clock
}

func playSnake(t *testing.T, stores store.Stores, player string, score int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, stores.Pools.AddToPrizePool(ctx, models.GameSnake, usdc.MustParse("0.01"), decimal.NewFromInt(70)))
	require.NoError(t, stores.Leaderboard.AddEntry(ctx, uuid.New(), models.GameSnake, player, score))
}

func TestFinalizePrizePoolsOnWeekStart(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	ctx := context.Background()

	playSnake(t, stores, alice, 40)
	playSnake(t, stores, bob, 90)

	clock.Advance(6*time.Hour + 5*time.Minute) // Monday 00:05
	require.NoError(t, jobs.FinalizePrizePools(ctx))

	daily, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(sunday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolFinalized, daily.Status)
	require.NotNil(t, daily.WinnerAddress)
	assert.Equal(t, bob, *daily.WinnerAddress)
	assert.Equal(t, usdc.MustParse("0.014"), daily.TotalAmount)

	weekly, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Weekly, period.WeeklyID(sunday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolFinalized, weekly.Status)
	assert.Equal(t, bob, *weekly.WinnerAddress)

	// Games nobody played have no pools; running again changes nothing.
	require.NoError(t, jobs.FinalizePrizePools(ctx))
	again, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(sunday))
	require.NoError(t, err)
	assert.Equal(t, daily.FinalizedAt, again.FinalizedAt)
}

func TestFinalizePrizePoolsMidWeekLeavesWeeklyOpen(t *testing.T) {
	thursday := time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)
	jobs, stores, clock := jobFixture(t, thursday)
	ctx := context.Background()

	playSnake(t, stores, alice, 40)
	clock.Advance(4*time.Hour + 5*time.Minute)
	require.NoError(t, jobs.FinalizePrizePools(ctx))

	daily, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(thursday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolFinalized, daily.Status)

	weekly, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Weekly, period.WeeklyID(thursday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolActive, weekly.Status)
}

func TestFinalizeWithoutEntriesHasNoWinner(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	ctx := context.Background()

	require.NoError(t, stores.Pools.AddToPrizePool(ctx, models.GamePong, usdc.MustParse("0.01"), decimal.NewFromInt(70)))
	clock.Advance(7 * time.Hour)
	require.NoError(t, jobs.FinalizePrizePools(ctx))

	pool, err := stores.Pools.GetPool(ctx, models.GamePong, period.Daily, period.DailyID(sunday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolFinalized, pool.Status)
	assert.Nil(t, pool.WinnerAddress)
}

func TestFinalizeLogsWinnerAddress(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	log, hook := logtest.NewNullLogger()
	jobs.Log = log
	ctx := context.Background()

	playSnake(t, stores, bob, 90)
	require.NoError(t, stores.Pools.AddToPrizePool(ctx, models.GamePong, usdc.MustParse("0.01"), decimal.NewFromInt(70)))
	clock.Advance(7 * time.Hour)
	require.NoError(t, jobs.FinalizePrizePools(ctx))

	winners := map[models.GameType]interface{}{}
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Prize pool finalized" && entry.Data["period"] == period.Daily {
			winners[entry.Data["game_type"].(models.GameType)] = entry.Data["winner"]
		}
	}
	assert.Equal(t, bob, winners[models.GameSnake])
	assert.Equal(t, "none", winners[models.GamePong])
}

type flakyLeaderboard struct {
	store.LeaderboardStore
	fail models.GameType
}

func (f flakyLeaderboard) GetTopScores(ctx context.Context, game models.GameType, pt period.Type, date string, limit int) ([]models.LeaderboardEntry, error) {
	if game == f.fail {
		return nil, errors.New("connection reset")
	}
	return f.LeaderboardStore.GetTopScores(ctx, game, pt, date, limit)
}

func TestFinalizeContinuesPastFailingGame(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	ctx := context.Background()
	jobs.Leaderboard = flakyLeaderboard{LeaderboardStore: stores.Leaderboard, fail: models.GameTetris}
	jobs.Games = []models.GameType{models.GameTetris, models.GameSnake}

	playSnake(t, stores, alice, 10)
	clock.Advance(7 * time.Hour)

	err := jobs.FinalizePrizePools(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tetris")
	assert.NotContains(t, err.Error(), "snake")

	pool, err := stores.Pools.GetPool(ctx, models.GameSnake, period.Daily, period.DailyID(sunday))
	require.NoError(t, err)
	assert.Equal(t, models.PoolFinalized, pool.Status)
}

func TestCleanupSessions(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	ctx := context.Background()

	old, err := stores.Sessions.CreateSession(ctx, models.GameSnake, alice, "0xaa", usdc.MustParse("0.01"))
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	fresh, err := stores.Sessions.CreateSession(ctx, models.GameTetris, alice, "0xbb", usdc.MustParse("0.02"))
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	require.NoError(t, jobs.CleanupSessions(ctx))

	got, err := stores.Sessions.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.Status)

	got, err = stores.Sessions.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.Status)
}

func TestCleanupPurgesOldNonces(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	ctx := context.Background()

	_, err := stores.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: "0x01", SessionID: uuid.New(), GameType: models.GameSnake})
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)
	_, err = stores.Nonces.MarkNonceUsed(ctx, models.UsedNonce{Nonce: "0x02", SessionID: uuid.New(), GameType: models.GameSnake})
	require.NoError(t, err)

	require.NoError(t, jobs.CleanupSessions(ctx))

	old, err := stores.Nonces.GetUsedNonce(ctx, "0x01")
	require.NoError(t, err)
	assert.Nil(t, old)
	recent, err := stores.Nonces.GetUsedNonce(ctx, "0x02")
	require.NoError(t, err)
	assert.NotNil(t, recent)
}

func TestRefreshLeaderboards(t *testing.T) {
	jobs, stores, _ := jobFixture(t, sunday)
	playSnake(t, stores, alice, 10)

	require.NoError(t, jobs.RefreshLeaderboards(context.Background()))
	cache := jobs.Cache.(*leaderboard.Cache)
	assert.Equal(t, len(models.AllGameTypes)*3, cache.Len())
}

func TestJobsRunThroughScheduler(t *testing.T) {
	jobs, stores, clock := jobFixture(t, sunday)
	playSnake(t, stores, alice, 10)
	clock.Advance(7 * time.Hour)

	s := New(jobs.Definitions(Schedules{
		PrizeFinalization:  MustParseSchedule("daily 00:05"),
		LeaderboardRefresh: MustParseSchedule("hourly :00"),
		SessionCleanup:     MustParseSchedule("daily 03:00"),
	}), 10, clock, logger.Discard())

	require.NoError(t, s.TriggerJob(JobPrizePoolFinalization))
	s.wg.Wait()

	history := s.GetExecutionHistory(1)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success, history[0].Error)
	assert.Equal(t, []string{JobPrizePoolFinalization, JobLeaderboardRefresh, JobSessionCleanup}, s.JobNames())
}
