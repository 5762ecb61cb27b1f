package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"crewflow/backend/internal/flow"
	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// flowRequest is the request body for creating or updating a flow.
type flowRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	YAMLContent string  `json:"yaml_content"`
}

// validateRequest is the request body for standalone validation.
type validateRequest struct {
	YAMLContent string `json:"yaml_content"`
}

// validateResponse reports a validation result without persisting anything.
type validateResponse struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// ListFlows returns all stored flows
// (GET /api/v1/flows)
func (s *Server) ListFlows(c echo.Context) error {
	ctx := c.Request().Context()

	flows, err := s.Store.ListFlows(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, flows)
}

// CreateFlow stores a new flow definition. The YAML is validated and the
// result persisted with the record; invalid flows are stored but cannot be
// executed.
// (POST /api/v1/flows)
func (s *Server) CreateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var req flowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Flow name is required")
	}

	if existing, err := s.Store.GetFlowByName(ctx, req.Name); err == nil && existing != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "A flow named "+req.Name+" already exists")
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	isValid, validationErrors := flow.Validate(req.YAMLContent)

	now := time.Now().UTC()
	fl := &models.Flow{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Description:      req.Description,
		YAMLContent:      req.YAMLContent,
		IsValid:          isValid,
		ValidationErrors: validationErrors,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.Store.CreateFlow(ctx, fl); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save flow: "+err.Error())
	}

	s.Logger.Info("flow %s created (%s, valid=%t)", fl.ID, fl.Name, fl.IsValid)
	return c.JSON(http.StatusCreated, fl)
}

// ValidateFlow checks flow YAML without storing it.
// (POST /api/v1/flows/validate)
func (s *Server) ValidateFlow(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	isValid, validationErrors := flow.Validate(req.YAMLContent)
	return c.JSON(http.StatusOK, validateResponse{IsValid: isValid, Errors: validationErrors})
}

// GetFlow returns one flow by id
// (GET /api/v1/flows/:id)
func (s *Server) GetFlow(c echo.Context) error {
	ctx := c.Request().Context()

	fl, err := s.Store.GetFlow(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Flow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, fl)
}

// UpdateFlow replaces a flow's name, description and YAML. The YAML is
// revalidated; schedules and past executions keep pointing at the record.
// (PUT /api/v1/flows/:id)
func (s *Server) UpdateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	fl, err := s.Store.GetFlow(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Flow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var req flowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Flow name is required")
	}

	if req.Name != fl.Name {
		if existing, err := s.Store.GetFlowByName(ctx, req.Name); err == nil && existing != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "A flow named "+req.Name+" already exists")
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	fl.Name = req.Name
	fl.Description = req.Description
	fl.YAMLContent = req.YAMLContent
	fl.IsValid, fl.ValidationErrors = flow.Validate(req.YAMLContent)
	fl.UpdatedAt = time.Now().UTC()

	if err := s.Store.UpdateFlow(ctx, fl); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save flow: "+err.Error())
	}

	return c.JSON(http.StatusOK, fl)
}

// DeleteFlow removes a flow together with its executions and schedules.
// Timer entries for the cascaded schedules are disarmed first so nothing
// fires against the deleted flow.
// (DELETE /api/v1/flows/:id)
func (s *Server) DeleteFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	flowID := id
	schedules, err := s.Store.ListSchedules(ctx, &flowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, sc := range schedules {
		s.Scheduler.Unregister(sc.ID)
	}

	if err := s.Store.DeleteFlow(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Flow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.Logger.Info("flow %s deleted", id)
	return c.NoContent(http.StatusNoContent)
}
