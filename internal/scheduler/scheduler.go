// Package scheduler drives periodic sync tasks from cron expressions stored
// in the canonical database.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/engine"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/config"
	"github.com/whalefall/accountsync/pkg/logger"
)

const (
	// DefaultWorkers is the size of the task worker pool.
	DefaultWorkers = 4

	// pollInterval is how often enabled tasks are re-enumerated. The
	// contract requires at least once per minute.
	pollInterval = time.Minute
)

// standard 5-field cron: minute hour day-of-month month day-of-week.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler enumerates enabled tasks and fires due ones through a bounded
// worker pool. A single goroutine does the enumeration; workers run syncs.
type Scheduler struct {
	store       *store.Store
	coordinator *engine.Coordinator
	location    *time.Location
	workers     int
	logger      *logger.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
	started  time.Time

	queue chan *store.Task
	wg    sync.WaitGroup
}

// New creates a scheduler. The timezone comes from configuration and applies
// to every cron expression.
func New(st *store.Store, coord *engine.Coordinator, cfg *config.Config, log *logger.Logger) (*Scheduler, error) {
	tz := cfg.Get("scheduler.timezone")
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	workers := cfg.GetInt("scheduler.workers", DefaultWorkers)
	return &Scheduler{
		store:       st,
		coordinator: coord,
		location:    loc,
		workers:     workers,
		logger:      log.Named("scheduler"),
		inFlight:    make(map[int64]bool),
		queue:       make(chan *store.Task, workers*2),
	}, nil
}

// Run blocks until ctx is cancelled, polling for due tasks once per minute.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = time.Now().In(s.location)
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.logger.Infof("scheduler running: %d workers, timezone %s", s.workers, s.location)
	for {
		select {
		case <-ctx.Done():
			close(s.queue)
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick enumerates enabled tasks and enqueues the due ones.
func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		s.logger.Errorf("enumerate tasks: %v", err)
		return
	}

	now := time.Now().In(s.location)
	for _, task := range tasks {
		due, err := s.isDue(task, now)
		if err != nil {
			s.logger.Warnf("task %q has invalid cron %q: %v", task.Name, task.CronExpr, err)
			continue
		}
		if !due {
			continue
		}
		if !s.claim(ctx, task) {
			s.logger.Warnf("task %q still running, skipping this fire-point", task.Name)
			continue
		}

		select {
		case s.queue <- task:
		default:
			// Queue full: give the slot back and let the next tick retry.
			s.unclaim(task.ID)
			s.logger.Warnf("task queue full, deferring %q", task.Name)
		}
	}
}

// isDue reports whether the task's cron expression has a fire-point between
// its last run (or scheduler start) and now.
func (s *Scheduler) isDue(task *store.Task, now time.Time) (bool, error) {
	sched, err := cronParser.Parse(task.CronExpr)
	if err != nil {
		return false, err
	}

	since := s.started
	if task.LastRun != nil {
		since = task.LastRun.In(s.location)
	}
	next := sched.Next(since)
	return !next.After(now), nil
}

// claim marks a task in flight. Per-task single-flight is enforced both
// in-process and against the store, which catches sessions left open by
// another run.
func (s *Scheduler) claim(ctx context.Context, task *store.Task) bool {
	s.mu.Lock()
	if s.inFlight[task.ID] {
		s.mu.Unlock()
		return false
	}
	s.inFlight[task.ID] = true
	s.mu.Unlock()

	running, err := s.store.HasRunningSessionForTask(ctx, task.ID)
	if err != nil {
		s.logger.Errorf("check running session for task %d: %v", task.ID, err)
		s.unclaim(task.ID)
		return false
	}
	if running {
		s.unclaim(task.ID)
		return false
	}
	return true
}

func (s *Scheduler) unclaim(taskID int64) {
	s.mu.Lock()
	delete(s.inFlight, taskID)
	s.mu.Unlock()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for task := range s.queue {
		s.runTask(ctx, task)
		s.unclaim(task.ID)
	}
}

// runTask fires one SCHEDULED_TASK session over the task's instance set.
func (s *Scheduler) runTask(ctx context.Context, task *store.Task) {
	if _, err := s.fireTask(ctx, task, store.SyncScheduledTask); err != nil {
		s.logger.Errorf("task %q: %v", task.Name, err)
	}
}

// RunTask fires one task immediately as a MANUAL_TASK session, honoring the
// per-task single-flight guard.
func (s *Scheduler) RunTask(ctx context.Context, taskID int64) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !s.claim(ctx, task) {
		return "", fmt.Errorf("task %q is already running", task.Name)
	}
	defer s.unclaim(task.ID)
	return s.fireTask(ctx, task, store.SyncManualTask)
}

// fireTask runs one session over the task's instance set and records the
// outcome on the task row.
func (s *Scheduler) fireTask(ctx context.Context, task *store.Task, syncType string) (string, error) {
	firedAt := time.Now().In(s.location)
	s.logger.Infof("task %q firing (%s)", task.Name, syncType)

	dialect := common.Dialect(task.Dialect)
	instances, err := s.store.ListActiveInstances(ctx, dialect)
	if err != nil {
		s.recordRun(ctx, task, firedAt, store.SessionFailed, err.Error(), false)
		return "", err
	}
	if len(instances) == 0 {
		s.recordRun(ctx, task, firedAt, store.SessionCompleted, "no matching instances", true)
		return "", nil
	}

	ids := make([]int64, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}

	sessionID, err := s.coordinator.SyncBatch(ctx, ids, syncType, &task.ID)
	if err != nil {
		s.recordRun(ctx, task, firedAt, store.SessionFailed, err.Error(), false)
		return "", err
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.recordRun(ctx, task, firedAt, store.SessionFailed, err.Error(), false)
		return sessionID, err
	}
	s.recordRun(ctx, task, firedAt, sess.Status, "session "+sessionID,
		sess.Status == store.SessionCompleted)
	return sessionID, nil
}

func (s *Scheduler) recordRun(ctx context.Context, task *store.Task, at time.Time, status, message string, succeeded bool) {
	if err := s.store.RecordTaskRun(ctx, task.ID, at, status, message, succeeded); err != nil {
		s.logger.Errorf("record run for task %d: %v", task.ID, err)
	}
}
