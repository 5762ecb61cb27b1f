package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"crewflow/backend/internal/hub"
	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// executionRequest is the request body for launching an execution.
type executionRequest struct {
	FlowID        string                 `json:"flow_id"`
	ModelOverride *string                `json:"model_override,omitempty"`
	Provider      *string                `json:"llm_provider,omitempty"`
	BaseURL       *string                `json:"llm_base_url,omitempty"`
	Inputs        map[string]interface{} `json:"inputs,omitempty"`
	SelectedTasks []string               `json:"selected_tasks,omitempty"`
}

// ListExecutions returns executions newest first, optionally filtered by
// flow id.
// (GET /api/v1/executions?flow_id=...)
func (s *Server) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()

	var flowID *string
	if v := c.QueryParam("flow_id"); v != "" {
		flowID = &v
	}

	executions, err := s.Store.ListExecutions(ctx, flowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, executions)
}

// CreateExecution launches a flow run and returns the pending execution
// record immediately; progress arrives over the update stream.
// (POST /api/v1/executions)
func (s *Server) CreateExecution(c echo.Context) error {
	ctx := c.Request().Context()

	var req executionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.FlowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow_id is required")
	}

	fl, err := s.Store.GetFlow(ctx, req.FlowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Flow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !fl.IsValid {
		return echo.NewHTTPError(http.StatusBadRequest, "Flow failed validation and cannot be executed")
	}

	execution, err := s.Engine.Start(ctx, fl, models.ExecutionConfig{
		ModelOverride: req.ModelOverride,
		Provider:      req.Provider,
		BaseURL:       req.BaseURL,
		Inputs:        req.Inputs,
		SelectedTasks: req.SelectedTasks,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to start execution: "+err.Error())
	}

	s.Logger.Info("execution %s started for flow %s", execution.ID, fl.ID)
	return c.JSON(http.StatusCreated, execution)
}

// GetExecution returns one execution by id
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()

	execution, err := s.Store.GetExecution(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, execution)
}

// DeleteExecution removes an execution record. A non-terminal execution is
// marked cancelled first and the cancellation is broadcast; the engine
// abandons the run when its next write finds the record gone.
// (DELETE /api/v1/executions/:id)
func (s *Server) DeleteExecution(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	execution, err := s.Store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if !execution.Status.Terminal() {
		now := time.Now().UTC()
		execution.Status = models.ExecutionStatusCancelled
		execution.CompletedAt = &now
		execution.Logs = append(execution.Logs, "["+now.Format(time.RFC3339)+"] Execution cancelled")
		if err := s.Store.UpdateExecution(ctx, execution); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		s.Hub.Publish(hub.Event{
			Type: hub.EventTypeExecutionUpdate,
			Data: map[string]interface{}{
				"execution_id": execution.ID,
				"status":       string(models.ExecutionStatusCancelled),
				"completed_at": now.Format(time.RFC3339),
			},
		})
		s.Logger.Info("execution %s cancelled", id)
	}

	if err := s.Store.DeleteExecution(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}
