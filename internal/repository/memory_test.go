package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewflow/backend/pkg/models"
)

func TestMemoryStoreClonesRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fl := &models.Flow{
		ID:          uuid.New().String(),
		Name:        "pipeline",
		YAMLContent: "name: pipeline\n",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateFlow(ctx, fl))

	// Mutating the caller's copy must not leak into the store.
	fl.Name = "mutated"
	got, err := store.GetFlow(ctx, fl.ID)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", got.Name)

	// Nor must mutating a retrieved copy.
	got.YAMLContent = "tampered"
	again, err := store.GetFlow(ctx, fl.ID)
	require.NoError(t, err)
	assert.Equal(t, "name: pipeline\n", again.YAMLContent)
}

func TestMemoryStoreDeleteFlowCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fl := &models.Flow{ID: uuid.New().String(), Name: "pipeline"}
	require.NoError(t, store.CreateFlow(ctx, fl))
	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID: uuid.New().String(), FlowID: fl.ID, Status: models.ExecutionStatusPending,
	}))
	require.NoError(t, store.CreateSchedule(ctx, &models.Schedule{
		ID: uuid.New().String(), FlowID: fl.ID, CronExpression: "0 0 * * *", IsActive: true,
	}))

	require.NoError(t, store.DeleteFlow(ctx, fl.ID))

	executions, err := store.ListExecutions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, executions)

	schedules, err := store.ListSchedules(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestMemoryStoreListExecutionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		e := &models.Execution{
			ID:        uuid.New().String(),
			FlowID:    "f1",
			Status:    models.ExecutionStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		ids = append(ids, e.ID)
		require.NoError(t, store.CreateExecution(ctx, e))
	}

	listed, err := store.ListExecutions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, ids[2], listed[0].ID)
	assert.Equal(t, ids[0], listed[2].ID)
}

func TestMemoryStoreUpdateScheduleRunTimes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sc := &models.Schedule{
		ID:             uuid.New().String(),
		FlowID:         "f1",
		Name:           "nightly",
		CronExpression: "0 0 * * *",
		IsActive:       true,
	}
	require.NoError(t, store.CreateSchedule(ctx, sc))

	lastRun := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	nextRun := lastRun.Add(24 * time.Hour)
	require.NoError(t, store.UpdateScheduleRunTimes(ctx, sc.ID, &lastRun, &nextRun))

	got, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, lastRun, *got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, nextRun, *got.NextRunAt)
	// Everything outside the run-time fields is untouched.
	assert.Equal(t, "0 0 * * *", got.CronExpression)
	assert.Equal(t, "nightly", got.Name)

	assert.ErrorIs(t, store.UpdateScheduleRunTimes(ctx, "missing", &lastRun, &nextRun), ErrNotFound)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetFlow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateExecution(ctx, &models.Execution{ID: "missing"}), ErrNotFound)
	assert.ErrorIs(t, store.DeleteSchedule(ctx, "missing"), ErrNotFound)
}
