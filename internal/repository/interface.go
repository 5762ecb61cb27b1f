package repository

import (
	"context"
	"errors"
	"time"

	"crewflow/backend/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence boundary for flows, executions and schedules.
// A successful return from any write implies the record is durable; the
// engine relies on that before broadcasting the corresponding event.
type Store interface {
	Ping(ctx context.Context) error

	CreateFlow(ctx context.Context, flow *models.Flow) error
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	GetFlowByName(ctx context.Context, name string) (*models.Flow, error)
	ListFlows(ctx context.Context) ([]*models.Flow, error)
	UpdateFlow(ctx context.Context, flow *models.Flow) error
	DeleteFlow(ctx context.Context, id string) error

	CreateExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	// ListExecutions returns executions newest first, optionally filtered
	// by flow id.
	ListExecutions(ctx context.Context, flowID *string) ([]*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	DeleteExecution(ctx context.Context, id string) error

	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, flowID *string) ([]*models.Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	// UpdateScheduleRunTimes writes only last_run_at and next_run_at. The
	// scheduler's firing path uses it so a concurrent edit to the operator
	// owned fields is never overwritten with stale values.
	UpdateScheduleRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	DeleteSchedule(ctx context.Context, id string) error
}
