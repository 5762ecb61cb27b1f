package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crewflow/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)
	fl := &models.Flow{
		ID:               uuid.New().String(),
		Name:             "pipeline",
		YAMLContent:      "name: pipeline\n",
		IsValid:          false,
		ValidationErrors: []string{"missing required field: name"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	t.Run("flow round trip", func(t *testing.T) {
		require.NoError(t, store.CreateFlow(ctx, fl))

		got, err := store.GetFlow(ctx, fl.ID)
		require.NoError(t, err)
		assert.Equal(t, fl.Name, got.Name)
		assert.Equal(t, fl.YAMLContent, got.YAMLContent)
		assert.Equal(t, fl.ValidationErrors, got.ValidationErrors)
		assert.Nil(t, got.Description)

		byName, err := store.GetFlowByName(ctx, "pipeline")
		require.NoError(t, err)
		assert.Equal(t, fl.ID, byName.ID)
	})

	t.Run("flow update", func(t *testing.T) {
		fl.IsValid = true
		fl.ValidationErrors = nil
		description := "a pipeline"
		fl.Description = &description
		require.NoError(t, store.UpdateFlow(ctx, fl))

		got, err := store.GetFlow(ctx, fl.ID)
		require.NoError(t, err)
		assert.True(t, got.IsValid)
		assert.Empty(t, got.ValidationErrors)
		require.NotNil(t, got.Description)
		assert.Equal(t, "a pipeline", *got.Description)
	})

	t.Run("missing records map to ErrNotFound", func(t *testing.T) {
		_, err := store.GetFlow(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetExecution(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetSchedule(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteFlow(ctx, uuid.New().String()), ErrNotFound)
		assert.ErrorIs(t, store.UpdateExecution(ctx, &models.Execution{ID: uuid.New().String()}), ErrNotFound)
	})

	t.Run("execution round trip and filtering", func(t *testing.T) {
		errMsg := "boom"
		startedAt := now.Add(time.Second)
		e := &models.Execution{
			ID:            uuid.New().String(),
			FlowID:        fl.ID,
			Status:        models.ExecutionStatusRunning,
			Inputs:        map[string]interface{}{"topic": "go"},
			SelectedTasks: []string{"research"},
			Logs:          []string{"[2026-03-01T00:00:00Z] Starting flow execution: pipeline"},
			StartedAt:     &startedAt,
			CreatedAt:     now,
		}
		require.NoError(t, store.CreateExecution(ctx, e))

		e.Status = models.ExecutionStatusFailed
		e.ErrorMessage = &errMsg
		e.Outputs = map[string]interface{}{"tasks": map[string]interface{}{}}
		require.NoError(t, store.UpdateExecution(ctx, e))

		got, err := store.GetExecution(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "boom", *got.ErrorMessage)
		assert.Equal(t, e.Inputs, got.Inputs)
		assert.Equal(t, e.SelectedTasks, got.SelectedTasks)
		assert.Equal(t, e.Logs, got.Logs)

		flowID := fl.ID
		listed, err := store.ListExecutions(ctx, &flowID)
		require.NoError(t, err)
		assert.Len(t, listed, 1)

		other := uuid.New().String()
		listed, err = store.ListExecutions(ctx, &other)
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("schedule round trip and active filter", func(t *testing.T) {
		active := &models.Schedule{
			ID:             uuid.New().String(),
			FlowID:         fl.ID,
			Name:           "nightly",
			CronExpression: "0 0 * * *",
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inactive := &models.Schedule{
			ID:             uuid.New().String(),
			FlowID:         fl.ID,
			Name:           "paused",
			CronExpression: "0 12 * * *",
			IsActive:       false,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		require.NoError(t, store.CreateSchedule(ctx, active))
		require.NoError(t, store.CreateSchedule(ctx, inactive))

		nextRun := now.Add(24 * time.Hour)
		active.NextRunAt = &nextRun
		require.NoError(t, store.UpdateSchedule(ctx, active))

		onlyActive, err := store.ListActiveSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, onlyActive, 1)
		assert.Equal(t, active.ID, onlyActive[0].ID)
		require.NotNil(t, onlyActive[0].NextRunAt)
		assert.Equal(t, nextRun, onlyActive[0].NextRunAt.UTC())

		flowID := fl.ID
		all, err := store.ListSchedules(ctx, &flowID)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("run time update leaves other columns alone", func(t *testing.T) {
		sc := &models.Schedule{
			ID:             uuid.New().String(),
			FlowID:         fl.ID,
			Name:           "hourly",
			CronExpression: "0 * * * *",
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		require.NoError(t, store.CreateSchedule(ctx, sc))

		lastRun := now
		nextRun := now.Add(time.Hour)
		require.NoError(t, store.UpdateScheduleRunTimes(ctx, sc.ID, &lastRun, &nextRun))

		got, err := store.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRunAt)
		assert.Equal(t, lastRun, got.LastRunAt.UTC())
		require.NotNil(t, got.NextRunAt)
		assert.Equal(t, nextRun, got.NextRunAt.UTC())
		assert.Equal(t, "0 * * * *", got.CronExpression)
		assert.Equal(t, "hourly", got.Name)

		err = store.UpdateScheduleRunTimes(ctx, uuid.New().String(), &lastRun, &nextRun)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleting a flow cascades", func(t *testing.T) {
		require.NoError(t, store.DeleteFlow(ctx, fl.ID))

		executions, err := store.ListExecutions(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, executions)

		schedules, err := store.ListSchedules(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, schedules)
	})
}
