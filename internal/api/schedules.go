package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"crewflow/backend/internal/repository"
	"crewflow/backend/internal/scheduler"
	"crewflow/backend/pkg/models"
)

// scheduleRequest is the request body for creating or updating a schedule.
type scheduleRequest struct {
	FlowID         string                 `json:"flow_id"`
	Name           string                 `json:"name"`
	CronExpression string                 `json:"cron_expression"`
	ModelOverride  *string                `json:"model_override,omitempty"`
	Provider       *string                `json:"llm_provider,omitempty"`
	BaseURL        *string                `json:"llm_base_url,omitempty"`
	Inputs         map[string]interface{} `json:"inputs,omitempty"`
	SelectedTasks  []string               `json:"selected_tasks,omitempty"`
	IsActive       *bool                  `json:"is_active,omitempty"`
}

// ListSchedules returns schedules, optionally filtered by flow id.
// (GET /api/v1/schedules?flow_id=...)
func (s *Server) ListSchedules(c echo.Context) error {
	ctx := c.Request().Context()

	var flowID *string
	if v := c.QueryParam("flow_id"); v != "" {
		flowID = &v
	}

	schedules, err := s.Store.ListSchedules(ctx, flowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, schedules)
}

// CreateSchedule stores a new cron schedule and arms its timer.
// (POST /api/v1/schedules)
func (s *Server) CreateSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.FlowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow_id is required")
	}
	if _, err := scheduler.ParseCron(req.CronExpression); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if _, err := s.Store.GetFlow(ctx, req.FlowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Flow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := time.Now().UTC()
	sc := &models.Schedule{
		ID:             uuid.New().String(),
		FlowID:         req.FlowID,
		Name:           req.Name,
		CronExpression: req.CronExpression,
		ModelOverride:  req.ModelOverride,
		Provider:       req.Provider,
		BaseURL:        req.BaseURL,
		Inputs:         req.Inputs,
		SelectedTasks:  req.SelectedTasks,
		IsActive:       active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.Store.CreateSchedule(ctx, sc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save schedule: "+err.Error())
	}

	if err := s.Scheduler.Register(ctx, sc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to arm schedule: "+err.Error())
	}

	s.Logger.Info("schedule %s created for flow %s (%s)", sc.ID, sc.FlowID, sc.CronExpression)
	return c.JSON(http.StatusCreated, sc)
}

// GetSchedule returns one schedule by id
// (GET /api/v1/schedules/:id)
func (s *Server) GetSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	sc, err := s.Store.GetSchedule(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, sc)
}

// UpdateSchedule replaces a schedule's cron expression, configuration and
// active flag, rearming its timer atomically.
// (PUT /api/v1/schedules/:id)
func (s *Server) UpdateSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	sc, err := s.Store.GetSchedule(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if _, err := scheduler.ParseCron(req.CronExpression); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sc.Name = req.Name
	sc.CronExpression = req.CronExpression
	sc.ModelOverride = req.ModelOverride
	sc.Provider = req.Provider
	sc.BaseURL = req.BaseURL
	sc.Inputs = req.Inputs
	sc.SelectedTasks = req.SelectedTasks
	if req.IsActive != nil {
		sc.IsActive = *req.IsActive
	}
	sc.UpdatedAt = time.Now().UTC()

	// Register persists the record along with the recomputed next run.
	if err := s.Scheduler.Register(ctx, sc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save schedule: "+err.Error())
	}

	return c.JSON(http.StatusOK, sc)
}

// ToggleSchedule flips a schedule's active flag. Deactivation takes effect
// before the next fire; reactivation computes a fresh future run time.
// (POST /api/v1/schedules/:id/toggle)
func (s *Server) ToggleSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	sc, err := s.Store.GetSchedule(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	sc.IsActive = !sc.IsActive
	sc.UpdatedAt = time.Now().UTC()

	if err := s.Scheduler.Register(ctx, sc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save schedule: "+err.Error())
	}

	s.Logger.Info("schedule %s active=%t", sc.ID, sc.IsActive)
	return c.JSON(http.StatusOK, sc)
}

// DeleteSchedule removes a schedule and disarms its timer. Executions it
// already spawned are unaffected.
// (DELETE /api/v1/schedules/:id)
func (s *Server) DeleteSchedule(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	s.Scheduler.Unregister(id)

	if err := s.Store.DeleteSchedule(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}
