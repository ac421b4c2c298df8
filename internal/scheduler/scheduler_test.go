package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/store"
)

func testScheduler(t *testing.T, started time.Time) *Scheduler {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return &Scheduler{
		location: loc,
		started:  started.In(loc),
		inFlight: make(map[int64]bool),
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	tests := []struct {
		name    string
		cron    string
		lastRun *time.Time
		started time.Time
		want    bool
	}{
		{
			name:    "every minute, ran a minute ago",
			cron:    "* * * * *",
			lastRun: &minuteAgo,
			started: hourAgo,
			want:    true,
		},
		{
			name:    "hourly, already ran since the fire point",
			cron:    "0 * * * *",
			lastRun: &minuteAgo,
			started: hourAgo,
			want:    false,
		},
		{
			name:    "hourly, last run before the fire point",
			cron:    "0 * * * *",
			lastRun: &hourAgo,
			started: hourAgo.Add(-time.Hour),
			want:    true,
		},
		{
			name:    "never ran, no fire point since scheduler start",
			cron:    "0 0 1 1 *",
			lastRun: nil,
			started: minuteAgo,
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testScheduler(t, tt.started)
			task := &store.Task{CronExpr: tt.cron, LastRun: tt.lastRun}
			due, err := s.isDue(task, now.In(s.location))
			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}
}

func TestIsDueRejectsInvalidCron(t *testing.T) {
	s := testScheduler(t, time.Now())
	_, err := s.isDue(&store.Task{CronExpr: "not a cron"}, time.Now())
	assert.Error(t, err)

	// 6-field expressions are not part of the contract.
	_, err = s.isDue(&store.Task{CronExpr: "0 0 * * * *"}, time.Now())
	assert.Error(t, err)
}

func TestInFlightGuard(t *testing.T) {
	s := testScheduler(t, time.Now())

	s.mu.Lock()
	assert.False(t, s.inFlight[42])
	s.inFlight[42] = true
	s.mu.Unlock()

	s.unclaim(42)
	s.mu.Lock()
	assert.False(t, s.inFlight[42])
	s.mu.Unlock()
}

func TestClaimRejectsInFlightTask(t *testing.T) {
	s := testScheduler(t, time.Now())

	s.mu.Lock()
	s.inFlight[7] = true
	s.mu.Unlock()

	// Rejected in-process before any store lookup, so a manual trigger
	// cannot race a scheduled fire of the same task.
	assert.False(t, s.claim(context.Background(), &store.Task{ID: 7, Name: "nightly"}))
}
