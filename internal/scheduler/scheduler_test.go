package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}

// fakeStarter records which flows were started.
type fakeStarter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeStarter) Start(ctx context.Context, fl *models.Flow, cfg models.ExecutionConfig) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fl.ID)
	return &models.Execution{ID: uuid.New().String(), FlowID: fl.ID, Status: models.ExecutionStatusPending}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSetup(t *testing.T, policy MisfirePolicy, now time.Time) (*Scheduler, *repository.MemoryStore, *fakeStarter, *models.Flow) {
	t.Helper()
	store := repository.NewMemoryStore()
	starter := &fakeStarter{}
	s := NewScheduler(store, starter, nopLogger{}, policy)
	s.now = func() time.Time { return now }

	fl := &models.Flow{
		ID:          uuid.New().String(),
		Name:        "nightly",
		YAMLContent: "name: nightly\n",
		IsValid:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateFlow(context.Background(), fl))
	return s, store, starter, fl
}

func testSchedule(t *testing.T, store *repository.MemoryStore, flowID, expr string, active bool, now time.Time) *models.Schedule {
	t.Helper()
	sc := &models.Schedule{
		ID:             uuid.New().String(),
		FlowID:         flowID,
		Name:           "test-schedule",
		CronExpression: expr,
		IsActive:       active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), sc))
	return sc
}

func TestRegisterComputesStrictlyFutureNextRun(t *testing.T) {
	ctx := context.Background()
	midnight := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s, store, _, fl := testSetup(t, MisfireSkip, midnight)

	sc := testSchedule(t, store, fl.ID, "0 0 * * *", true, midnight)
	require.NoError(t, s.Register(ctx, sc))

	// Registering exactly at a matching instant must point at the next
	// occurrence, never the current one.
	require.NotNil(t, sc.NextRunAt)
	assert.Equal(t, midnight.Add(24*time.Hour), *sc.NextRunAt)

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.NextRunAt)
	assert.Equal(t, midnight.Add(24*time.Hour), *persisted.NextRunAt)
}

func TestRegisterRejectsInvalidCron(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, _, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "not a cron", true, now)
	err := s.Register(ctx, sc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestTickFiresDueSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))
	nextRun := *sc.NextRunAt
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), nextRun)

	// Not due yet.
	assert.Equal(t, 0, s.Tick(ctx, nextRun.Add(-time.Second)))
	assert.Equal(t, 0, starter.count())

	// Due now: fires once, persists run times, rearms for the occurrence
	// after the fire time.
	assert.Equal(t, 1, s.Tick(ctx, nextRun))
	assert.Equal(t, 1, starter.count())

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.LastRunAt)
	assert.Equal(t, nextRun, *persisted.LastRunAt)
	require.NotNil(t, persisted.NextRunAt)
	assert.Equal(t, nextRun.Add(5*time.Minute), *persisted.NextRunAt)

	// The same instant does not fire twice.
	assert.Equal(t, 0, s.Tick(ctx, nextRun))
	assert.Equal(t, 1, starter.count())
}

func TestDeactivationPreventsFiring(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))

	require.NoError(t, s.SetActive(ctx, sc.ID, false))

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, persisted.IsActive)
	assert.Nil(t, persisted.NextRunAt)

	assert.Equal(t, 0, s.Tick(ctx, now.Add(time.Hour)))
	assert.Equal(t, 0, starter.count())
}

func TestReactivationRecomputesNextRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "0 0 * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))
	require.NoError(t, s.SetActive(ctx, sc.ID, false))

	// Reactivate much later: next run must be computed from the new now,
	// not the one at deactivation time.
	later := now.Add(72 * time.Hour)
	s.now = func() time.Time { return later }
	require.NoError(t, s.SetActive(ctx, sc.ID, true))

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.NextRunAt)
	assert.True(t, persisted.NextRunAt.After(later))

	// Nothing fires for the interval the schedule was inactive.
	assert.Equal(t, 0, starter.count())
}

func TestRescheduleReplacesEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))

	require.NoError(t, s.Reschedule(ctx, sc.ID, "0 * * * *"))

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", persisted.CronExpression)
	require.NotNil(t, persisted.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), *persisted.NextRunAt)

	// The old five-minute cadence no longer fires.
	assert.Equal(t, 0, s.Tick(ctx, now.Add(5*time.Minute)))
	assert.Equal(t, 1, s.Tick(ctx, now.Add(time.Hour)))
	assert.Equal(t, 1, starter.count())
}

func TestUnregisterStopsFiring(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))

	s.Unregister(sc.ID)

	assert.Equal(t, 0, s.Tick(ctx, now.Add(time.Hour)))
	assert.Equal(t, 0, starter.count())
}

func TestDeactivatedInStoreSkipsAtFireTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	sc := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))

	// Flip the flag behind the scheduler's back, as a competing writer
	// would between arming and firing.
	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	persisted.IsActive = false
	require.NoError(t, store.UpdateSchedule(ctx, persisted))

	assert.Equal(t, 1, s.Tick(ctx, now.Add(5*time.Minute)))
	assert.Equal(t, 0, starter.count())

	// The entry stays disarmed until reactivation.
	assert.Equal(t, 0, s.Tick(ctx, now.Add(time.Hour)))
}

// editDuringFireStore injects a callback between the firing path's read of
// a schedule and its run-time write.
type editDuringFireStore struct {
	repository.Store
	onGetSchedule func()
}

func (s *editDuringFireStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	sc, err := s.Store.GetSchedule(ctx, id)
	if s.onGetSchedule != nil {
		s.onGetSchedule()
	}
	return sc, err
}

func TestFirePreservesConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := repository.NewMemoryStore()
	starter := &fakeStarter{}
	store := &editDuringFireStore{Store: base}
	s := NewScheduler(store, starter, nopLogger{}, MisfireSkip)
	s.now = func() time.Time { return now }

	fl := &models.Flow{
		ID:          uuid.New().String(),
		Name:        "nightly",
		YAMLContent: "name: nightly\n",
		IsValid:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, base.CreateFlow(ctx, fl))
	sc := testSchedule(t, base, fl.ID, "*/5 * * * *", true, now)
	require.NoError(t, s.Register(ctx, sc))

	// An operator edit lands while the schedule is firing, after the firing
	// path read the record.
	edited := false
	store.onGetSchedule = func() {
		if edited {
			return
		}
		edited = true
		upd, err := base.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
		upd.CronExpression = "0 0 * * *"
		require.NoError(t, s.Register(ctx, upd))
	}

	fireAt := now.Add(5 * time.Minute)
	assert.Equal(t, 1, s.Tick(ctx, fireAt))
	assert.Equal(t, 1, starter.count())

	// The firing path writes only run times; the edit is not clobbered with
	// the expression read before firing.
	persisted, err := base.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", persisted.CronExpression)
	require.NotNil(t, persisted.LastRunAt)
	assert.Equal(t, fireAt, *persisted.LastRunAt)

	// The armed entry follows the new expression, not the old cadence.
	assert.Equal(t, 0, s.Tick(ctx, fireAt.Add(5*time.Minute)))
	assert.Equal(t, 1, s.Tick(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, starter.count())
}

func TestLoadMisfireSkip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	missed := now.Add(-2 * time.Hour)
	sc := testSchedule(t, store, fl.ID, "0 * * * *", true, now)
	sc.NextRunAt = &missed
	require.NoError(t, store.UpdateSchedule(ctx, sc))

	require.NoError(t, s.Load(ctx))

	// The missed occurrence is skipped; the next run is in the future.
	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.NextRunAt)
	assert.True(t, persisted.NextRunAt.After(now))

	assert.Equal(t, 0, s.Tick(ctx, now))
	assert.Equal(t, 0, starter.count())
}

func TestLoadMisfireFireOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireFireOnce, now)

	missed := now.Add(-2 * time.Hour)
	sc := testSchedule(t, store, fl.ID, "0 * * * *", true, now)
	sc.NextRunAt = &missed
	require.NoError(t, store.UpdateSchedule(ctx, sc))

	require.NoError(t, s.Load(ctx))

	// The missed schedule fires immediately, once, then resumes cadence.
	assert.Equal(t, 1, s.Tick(ctx, now))
	assert.Equal(t, 1, starter.count())

	persisted, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), *persisted.NextRunAt)

	assert.Equal(t, 0, s.Tick(ctx, now))
	assert.Equal(t, 1, starter.count())
}

func TestLoadSkipsInvalidExpressions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, store, starter, fl := testSetup(t, MisfireSkip, now)

	testSchedule(t, store, fl.ID, "definitely not cron", true, now)
	good := testSchedule(t, store, fl.ID, "*/5 * * * *", true, now)

	require.NoError(t, s.Load(ctx))

	assert.Equal(t, 1, s.Tick(ctx, now.Add(5*time.Minute)))
	assert.Equal(t, 1, starter.count())

	persisted, err := store.GetSchedule(ctx, good.ID)
	require.NoError(t, err)
	assert.NotNil(t, persisted.NextRunAt)
}

func TestStartStopLifecycle(t *testing.T) {
	now := time.Now().UTC()
	s, _, _, _ := testSetup(t, MisfireSkip, now)

	assert.False(t, s.Running())
	s.Start()
	assert.True(t, s.Running())
	s.Stop()
	assert.False(t, s.Running())
}
