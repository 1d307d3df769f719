package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

const (
	JobPrizePoolFinalization = "prize-pool-finalization"
	JobLeaderboardRefresh    = "leaderboard-refresh"
	JobSessionCleanup        = "session-cleanup"
)

// Refresher reloads one cached leaderboard table.
type Refresher interface {
	Refresh(ctx context.Context, gameType models.GameType, periodType period.Type, periodDate string) ([]models.LeaderboardEntry, error)
}

type Schedules struct {
	PrizeFinalization  Schedule
	LeaderboardRefresh Schedule
	SessionCleanup     Schedule
}

// Jobs holds what the three arcade jobs operate on.
// A zero NonceRetention means store.DefaultNonceRetention.
type Jobs struct {
	Sessions       store.SessionStore
	Leaderboard    store.LeaderboardStore
	Pools          store.PrizePoolStore
	Nonces         store.NonceStore
	Cache          Refresher
	SessionMaxAge  time.Duration
	NonceRetention time.Duration
	Games          []models.GameType
	Clock          clockwork.Clock
	Log            logrus.FieldLogger
}

// Definitions returns the arcade jobs bound to their schedules.
func (j *Jobs) Definitions(s Schedules) []Job {
	if j.Clock == nil {
		j.Clock = clockwork.NewRealClock()
	}
	if len(j.Games) == 0 {
		j.Games = models.AllGameTypes
	}
	j.Log = logger.Component(j.Log, "jobs")
	return []Job{
		{Name: JobPrizePoolFinalization, Schedule: s.PrizeFinalization, Run: j.FinalizePrizePools},
		{Name: JobLeaderboardRefresh, Schedule: s.LeaderboardRefresh, Run: j.RefreshLeaderboards},
		{Name: JobSessionCleanup, Schedule: s.SessionCleanup, Run: j.CleanupSessions},
	}
}

// FinalizePrizePools closes yesterday's daily pools, and last week's weekly pools on Mondays.
// A failing game does not stop the others; all failures are returned together.
func (j *Jobs) FinalizePrizePools(ctx context.Context) error {
	now := j.Clock.Now().UTC()
	yesterday := period.Yesterday(now)
	weekly := period.IsWeekStart(now)
	lastWeek := period.PreviousWeek(now)

	var errs []error
	for _, game := range j.Games {
		if err := j.finalize(ctx, game, period.Daily, yesterday); err != nil {
			errs = append(errs, err)
		}
		if weekly {
			if err := j.finalize(ctx, game, period.Weekly, lastWeek); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (j *Jobs) finalize(ctx context.Context, game models.GameType, periodType period.Type, date string) error {
	log := j.Log.WithFields(logrus.Fields{"game_type": game, "period": periodType, "date": date})

	top, err := j.Leaderboard.GetTopScores(ctx, game, periodType, date, 1)
	if err != nil {
		log.WithError(err).Error("Failed to read winner")
		return fmt.Errorf("%s %s %s: %w", game, periodType, date, err)
	}
	var winner *string
	if len(top) > 0 {
		winner = &top[0].PlayerAddress
	}

	changed, err := j.Pools.FinalizePool(ctx, game, periodType, date, winner)
	if err != nil {
		log.WithError(err).Error("Failed to finalize pool")
		return fmt.Errorf("%s %s %s: %w", game, periodType, date, err)
	}
	if changed {
		name := "none"
		if winner != nil {
			name = *winner
		}
		log.WithField("winner", name).Info("Prize pool finalized")
	}
	return nil
}

// RefreshLeaderboards reloads and order-checks every current table.
func (j *Jobs) RefreshLeaderboards(ctx context.Context) error {
	if j.Cache == nil {
		return nil
	}
	now := j.Clock.Now()

	var errs []error
	refreshed := 0
	for _, game := range j.Games {
		for _, pt := range []period.Type{period.Daily, period.Weekly, period.AllTime} {
			date := period.ID(pt, now)
			if _, err := j.Cache.Refresh(ctx, game, pt, date); err != nil {
				errs = append(errs, fmt.Errorf("%s %s %s: %w", game, pt, date, err))
				continue
			}
			refreshed++
		}
	}
	j.Log.WithField("tables", refreshed).Info("Leaderboards refreshed")
	return errors.Join(errs...)
}

// CleanupSessions expires sessions left active longer than SessionMaxAge and purges
// settled nonces older than NonceRetention.
func (j *Jobs) CleanupSessions(ctx context.Context) error {
	n, err := j.Sessions.ExpireStaleSessions(ctx, j.SessionMaxAge)
	if err != nil {
		return err
	}
	j.Log.WithField("expired", n).Info("Stale sessions expired")

	if j.Nonces == nil {
		return nil
	}
	retention := j.NonceRetention
	if retention <= 0 {
		retention = store.DefaultNonceRetention
	}
	purged, err := j.Nonces.PurgeUsedNonces(ctx, retention)
	if err != nil {
		return fmt.Errorf("purge used nonces: %w", err)
	}
	if purged > 0 {
		j.Log.WithField("purged", purged).Info("Old payment nonces purged")
	}
	return nil
}
