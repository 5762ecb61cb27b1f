// Package scheduler fires flow executions from cron-based schedules. It
// keeps an in-memory priority queue of (next fire time, schedule) pairs,
// rebuilt from the persisted schedules at startup, and a single timer loop
// that pops the earliest entry. Cron parsing and next-occurrence math use
// the standard 5-field syntax.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Starter launches an execution for a flow. Satisfied by the execution
// engine; a schedule firing goes through exactly the same entry point as
// an on-demand caller.
type Starter interface {
	Start(ctx context.Context, fl *models.Flow, cfg models.ExecutionConfig) (*models.Execution, error)
}

// MisfirePolicy controls what happens to a schedule whose stored next run
// time already passed while the process was down.
type MisfirePolicy string

const (
	// MisfireSkip resumes at the next future occurrence. This is the
	// default: it avoids duplicate-run storms after downtime.
	MisfireSkip MisfirePolicy = "skip"
	// MisfireFireOnce fires the missed schedule immediately once, then
	// resumes the normal cadence.
	MisfireFireOnce MisfirePolicy = "fire_once"
)

// ParsePolicy maps a config string to a MisfirePolicy, defaulting to skip.
func ParsePolicy(s string) MisfirePolicy {
	if MisfirePolicy(s) == MisfireFireOnce {
		return MisfireFireOnce
	}
	return MisfireSkip
}

// ParseCron validates a 5-field cron expression and returns its schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return spec, nil
}

// entry is one armed schedule in the queue.
type entry struct {
	scheduleID string
	spec       cron.Schedule
	next       time.Time
	index      int
}

// entryQueue is a min-heap ordered by next fire time.
type entryQueue []*entry

func (q entryQueue) Len() int            { return len(q) }
func (q entryQueue) Less(i, j int) bool  { return q[i].next.Before(q[j].next) }
func (q entryQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *entryQueue) Push(x interface{}) { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *entryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler owns schedule records' firing metadata. Nothing else writes
// last_run_at or next_run_at.
type Scheduler struct {
	store   repository.Store
	engine  Starter
	logger  Logger
	misfire MisfirePolicy
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	queue   entryQueue
	running bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates a Scheduler. Call Load to arm persisted schedules
// and Start to begin the timer loop.
func NewScheduler(store repository.Store, engine Starter, logger Logger, misfire MisfirePolicy) *Scheduler {
	return &Scheduler{
		store:   store,
		engine:  engine,
		logger:  logger,
		misfire: misfire,
		now:     time.Now,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Load arms every persisted active schedule, applying the misfire policy
// to schedules whose stored next run time is already in the past.
func (s *Scheduler) Load(ctx context.Context) error {
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	now := s.now()
	for _, sc := range schedules {
		spec, err := ParseCron(sc.CronExpression)
		if err != nil {
			s.logger.Error("scheduler: schedule %s has invalid cron expression %q, skipping", sc.ID, sc.CronExpression)
			continue
		}

		next := spec.Next(now)
		if sc.NextRunAt != nil && sc.NextRunAt.Before(now) && s.misfire == MisfireFireOnce {
			// Missed while the process was down; fire as soon as the
			// loop starts, once.
			next = now
		}

		if err := s.store.UpdateScheduleRunTimes(ctx, sc.ID, sc.LastRunAt, &next); err != nil {
			s.logger.Error("scheduler: failed to persist next run for schedule %s: %v", sc.ID, err)
			continue
		}

		s.arm(sc.ID, spec, next)
		s.logger.Info("scheduler: armed schedule %s (%s), next run %s", sc.ID, sc.Name, next.Format(time.RFC3339))
	}

	return nil
}

// Start begins the timer loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler: already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info("scheduler: started")
}

// Stop terminates the timer loop. In-flight executions are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	s.logger.Info("scheduler: stopped")
}

// Running reports whether the timer loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Register validates the schedule's cron expression, computes and persists
// its next run time, and arms (or, if inactive, disarms) its timer entry.
// Any existing entry for the same schedule id is replaced atomically; two
// entries for one schedule are never armed at once.
func (s *Scheduler) Register(ctx context.Context, sc *models.Schedule) error {
	spec, err := ParseCron(sc.CronExpression)
	if err != nil {
		return err
	}

	if !sc.IsActive {
		sc.NextRunAt = nil
		if err := s.store.UpdateSchedule(ctx, sc); err != nil {
			return fmt.Errorf("failed to persist schedule %s: %w", sc.ID, err)
		}
		s.disarm(sc.ID)
		s.logger.Info("scheduler: schedule %s deactivated", sc.ID)
		return nil
	}

	next := spec.Next(s.now())
	sc.NextRunAt = &next
	if err := s.store.UpdateSchedule(ctx, sc); err != nil {
		return fmt.Errorf("failed to persist schedule %s: %w", sc.ID, err)
	}

	s.arm(sc.ID, spec, next)
	s.logger.Info("scheduler: schedule %s armed, next run %s", sc.ID, next.Format(time.RFC3339))
	return nil
}

// Unregister disarms a schedule's timer entry, e.g. when the schedule is
// deleted. Running executions it spawned are unaffected.
func (s *Scheduler) Unregister(scheduleID string) {
	s.disarm(scheduleID)
	s.logger.Info("scheduler: schedule %s unregistered", scheduleID)
}

// Reschedule replaces a schedule's cron expression and rearms it.
func (s *Scheduler) Reschedule(ctx context.Context, scheduleID, cronExpression string) error {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	sc.CronExpression = cronExpression
	sc.UpdatedAt = s.now().UTC()
	return s.Register(ctx, sc)
}

// SetActive toggles a schedule. Deactivation disarms the entry before the
// next fire; reactivation recomputes a future next run time.
func (s *Scheduler) SetActive(ctx context.Context, scheduleID string, active bool) error {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	sc.IsActive = active
	sc.UpdatedAt = s.now().UTC()
	return s.Register(ctx, sc)
}

// Tick fires every entry due at or before now and rearms it. It is the
// single scheduling iteration the timer loop runs; tests drive it
// directly. Returns the number of schedules fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].next.After(now) {
			s.mu.Unlock()
			return fired
		}
		e := heap.Pop(&s.queue).(*entry)
		delete(s.entries, e.scheduleID)
		s.mu.Unlock()

		if s.fire(ctx, e, now) {
			e.next = e.spec.Next(now)
			s.mu.Lock()
			// A Register call may have re-armed the schedule while the
			// firing was in progress; its entry wins.
			if _, exists := s.entries[e.scheduleID]; !exists {
				s.entries[e.scheduleID] = e
				heap.Push(&s.queue, e)
			}
			s.mu.Unlock()
		}
		fired++
	}
}

// fire spawns an execution for one due schedule. Returns whether the
// schedule should be rearmed. The spawned execution runs in the
// background; firing never blocks on it.
func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) bool {
	sc, err := s.store.GetSchedule(ctx, e.scheduleID)
	if err != nil {
		s.logger.Warn("scheduler: schedule %s vanished before firing: %v", e.scheduleID, err)
		return false
	}
	if !sc.IsActive {
		// Deactivated between arming and firing; skip silently and stay
		// disarmed until reactivation.
		s.logger.Debug("scheduler: schedule %s inactive at fire time, skipping", sc.ID)
		return false
	}

	fl, err := s.store.GetFlow(ctx, sc.FlowID)
	if err != nil {
		s.logger.Error("scheduler: flow %s for schedule %s not found: %v", sc.FlowID, sc.ID, err)
		return false
	}

	execution, err := s.engine.Start(ctx, fl, sc.ExecutionConfig())
	if err != nil {
		s.logger.Error("scheduler: failed to start execution for schedule %s: %v", sc.ID, err)
	} else {
		s.logger.Info("scheduler: schedule %s fired, execution %s", sc.ID, execution.ID)
	}

	// Only the run-time fields are written here. A concurrent operator
	// edit to the rest of the record must not be overwritten with the
	// values read before firing.
	fireTime := now.UTC()
	next := e.spec.Next(now)
	if err := s.store.UpdateScheduleRunTimes(ctx, sc.ID, &fireTime, &next); err != nil {
		s.logger.Error("scheduler: failed to persist run times for schedule %s: %v", sc.ID, err)
	}

	return true
}

// arm inserts or replaces the entry for a schedule.
func (s *Scheduler) arm(scheduleID string, spec cron.Schedule, next time.Time) {
	s.mu.Lock()
	if old, ok := s.entries[scheduleID]; ok && old.index >= 0 {
		heap.Remove(&s.queue, old.index)
	}
	e := &entry{scheduleID: scheduleID, spec: spec, next: next}
	s.entries[scheduleID] = e
	heap.Push(&s.queue, e)
	s.mu.Unlock()
	s.notify()
}

// disarm removes a schedule's entry if present.
func (s *Scheduler) disarm(scheduleID string) {
	s.mu.Lock()
	if e, ok := s.entries[scheduleID]; ok {
		if e.index >= 0 {
			heap.Remove(&s.queue, e.index)
		}
		delete(s.entries, scheduleID)
	}
	s.mu.Unlock()
	s.notify()
}

// notify nudges the loop to recompute its timer after queue changes.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop is the single scheduling authority: it sleeps until the earliest
// entry is due, fires due entries, and repeats. Firing spawns background
// work through the engine, so the loop stays free to service the other
// schedules and queue changes.
func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		var timerC <-chan time.Time
		var timer *time.Timer

		s.mu.Lock()
		if len(s.queue) > 0 {
			d := s.queue[0].next.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}
		s.mu.Unlock()

		select {
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.Tick(context.Background(), s.now())
		}
	}
}
