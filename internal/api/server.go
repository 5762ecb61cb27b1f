// Package api contains the HTTP handlers for the flow manager service
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"crewflow/backend/internal/hub"
	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// ServiceName and ServiceVersion identify the service in health responses.
const (
	ServiceName    = "crewflow"
	ServiceVersion = "1.0.0"
)

// ExecutionStarter launches executions. Satisfied by the execution engine.
type ExecutionStarter interface {
	Start(ctx context.Context, fl *models.Flow, cfg models.ExecutionConfig) (*models.Execution, error)
}

// ScheduleRegistry is the scheduler surface the handlers need: arming and
// disarming timer entries. The scheduler itself persists next_run_at.
type ScheduleRegistry interface {
	Register(ctx context.Context, sc *models.Schedule) error
	Unregister(scheduleID string)
	Running() bool
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Server holds the dependencies for the API server.
type Server struct {
	Store     repository.Store
	Engine    ExecutionStarter
	Scheduler ScheduleRegistry
	Hub       *hub.Hub
	Logger    Logger
}

// NewServer creates a new Server.
func NewServer(store repository.Store, engine ExecutionStarter, scheduler ScheduleRegistry, h *hub.Hub, logger Logger) *Server {
	return &Server{
		Store:     store,
		Engine:    engine,
		Scheduler: scheduler,
		Hub:       h,
		Logger:    logger,
	}
}

// RegisterRoutes mounts all handlers on the echo instance. The group
// middleware (auth) is applied by the caller.
func (s *Server) RegisterRoutes(e *echo.Echo, middleware ...echo.MiddlewareFunc) {
	e.GET("/healthz", s.HandleHealth)
	e.GET("/ws/updates", s.HandleUpdates)

	v1 := e.Group("/api/v1", middleware...)

	v1.GET("/flows", s.ListFlows)
	v1.POST("/flows", s.CreateFlow)
	v1.POST("/flows/validate", s.ValidateFlow)
	v1.GET("/flows/:id", s.GetFlow)
	v1.PUT("/flows/:id", s.UpdateFlow)
	v1.DELETE("/flows/:id", s.DeleteFlow)

	v1.GET("/executions", s.ListExecutions)
	v1.POST("/executions", s.CreateExecution)
	v1.GET("/executions/:id", s.GetExecution)
	v1.DELETE("/executions/:id", s.DeleteExecution)

	v1.GET("/schedules", s.ListSchedules)
	v1.POST("/schedules", s.CreateSchedule)
	v1.GET("/schedules/:id", s.GetSchedule)
	v1.PUT("/schedules/:id", s.UpdateSchedule)
	v1.POST("/schedules/:id/toggle", s.ToggleSchedule)
	v1.DELETE("/schedules/:id", s.DeleteSchedule)
}

// HandleHealth reports service health. The service is degraded when the
// store is unreachable or the scheduler loop is not running.
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	status := models.HealthStatus{
		Status:    "ok",
		Service:   ServiceName,
		Version:   ServiceVersion,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}

	if err := s.Store.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Checks["database"] = err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if s.Scheduler != nil && s.Scheduler.Running() {
		status.Checks["scheduler"] = "ok"
	} else {
		status.Status = "degraded"
		status.Checks["scheduler"] = "not running"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
