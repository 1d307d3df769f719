package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/logger"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    Schedule
		wantErr bool
	}{
		{in: "daily 00:05", want: Schedule{Kind: Daily, Hour: 0, Minute: 5}},
		{in: "Daily 23:59", want: Schedule{Kind: Daily, Hour: 23, Minute: 59}},
		{in: "hourly :00", want: Schedule{Kind: Hourly, Minute: 0}},
		{in: "hourly :30", want: Schedule{Kind: Hourly, Minute: 30}},
		{in: "daily 24:00", wantErr: true},
		{in: "daily 12:60", wantErr: true},
		{in: "daily 12", wantErr: true},
		{in: "hourly 1:30", wantErr: true},
		{in: "weekly 00:00", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "daily 00:05", MustParseSchedule("daily 0:05").String())
	assert.Equal(t, "hourly :07", MustParseSchedule("hourly :07").String())
}

func testScheduler(t *testing.T, size int, jobs ...Job) (*Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	s := New(jobs, size, clock, logger.Discard())
	t.Cleanup(func() { _ = s.Stop() })
	return s, clock
}

func TestTriggerJobRecordsEveryOutcome(t *testing.T) {
	daily := MustParseSchedule("daily 00:05")
	s, _ := testScheduler(t, 10,
		Job{Name: "ok", Schedule: daily, Run: func(context.Context) error { return nil }},
		Job{Name: "fails", Schedule: daily, Run: func(context.Context) error { return errors.New("boom") }},
		Job{Name: "panics", Schedule: daily, Run: func(context.Context) error { panic("kaboom") }},
	)

	for _, name := range []string{"ok", "fails", "panics"} {
		require.NoError(t, s.TriggerJob(name))
		s.wg.Wait()
	}

	history := s.GetExecutionHistory(0)
	require.Len(t, history, 3)
	assert.Equal(t, "panics", history[0].JobName)
	assert.Equal(t, "panic: kaboom", history[0].Error)
	assert.Equal(t, "boom", history[1].Error)
	assert.True(t, history[2].Success)
	assert.Equal(t, TriggerManual, history[2].Trigger)

	assert.Len(t, s.GetExecutionHistory(2), 2)

	stats := s.GetStats()
	assert.False(t, stats.Running)
	assert.Equal(t, 3, stats.TotalExecutions)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 2, stats.Failed)
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.01)
	require.Len(t, stats.Jobs, 3)
	require.NotNil(t, stats.Jobs[1].LastRun)
	assert.False(t, stats.Jobs[1].LastRun.Success)

	err := s.TriggerJob("nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHistoryIsBounded(t *testing.T) {
	n := 0
	s, _ := testScheduler(t, 3, Job{Name: "count", Schedule: MustParseSchedule("hourly :00"), Run: func(context.Context) error {
		n++
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	}})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.TriggerJob("count"))
		s.wg.Wait()
	}

	history := s.GetExecutionHistory(100)
	require.Len(t, history, 3)
	assert.True(t, history[0].Success, "run 5")
	assert.False(t, history[1].Success, "run 4")
	assert.True(t, history[2].Success, "run 3")
}

func TestOverlappingRunIsRecordedAsFailure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, _ := testScheduler(t, 10, Job{Name: "slow", Schedule: MustParseSchedule("daily 03:00"), Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	require.NoError(t, s.TriggerJob("slow"))
	<-started
	assert.True(t, s.GetStats().Jobs[0].Running)

	require.NoError(t, s.TriggerJob("slow"))
	require.Eventually(t, func() bool { return len(s.GetExecutionHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "job already running", s.GetExecutionHistory(0)[0].Error)

	close(release)
	s.wg.Wait()

	history := s.GetExecutionHistory(0)
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
}

func TestStartStopAreIdempotent(t *testing.T) {
	s, _ := testScheduler(t, 10, Job{Name: "nightly", Schedule: MustParseSchedule("daily 00:05"), Run: func(context.Context) error { return nil }})

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.Running())

	want := time.Date(2026, 10, 17, 0, 5, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		next := s.GetStats().Jobs[0].NextRun
		return next != nil && next.Equal(want)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.Nil(t, s.GetStats().Jobs[0].NextRun)
}

func TestScheduledRunFiresOnClock(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, clock := testScheduler(t, 10, Job{Name: "tick", Schedule: MustParseSchedule("hourly :30"), Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(30 * time.Minute)
	select {
	case <-ran:
	case <-ctx.Done():
		t.Fatal("scheduled run did not fire")
	}

	require.Eventually(t, func() bool { return len(s.GetExecutionHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TriggerScheduled, s.GetExecutionHistory(0)[0].Trigger)
}
