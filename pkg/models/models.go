// Package models defines the domain models for the flow manager service
package models

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of an execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal statuses
// have no outgoing transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Flow stores a declarative flow definition as authored YAML. The parsed
// form lives in internal/flow; the record keeps the last validation result
// so invalid flows can be stored but never executed.
type Flow struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      *string   `json:"description,omitempty" db:"description"`
	YAMLContent      string    `json:"yaml_content" db:"yaml_content"`
	IsValid          bool      `json:"is_valid" db:"is_valid"`
	ValidationErrors []string  `json:"validation_errors,omitempty" db:"validation_errors"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ExecutionConfig is the configuration captured when an execution is
// created. It is immutable for the lifetime of the execution.
type ExecutionConfig struct {
	ModelOverride *string                `json:"model_override,omitempty"`
	Provider      *string                `json:"llm_provider,omitempty"`
	BaseURL       *string                `json:"llm_base_url,omitempty"`
	Inputs        map[string]interface{} `json:"inputs,omitempty"`
	// SelectedTasks restricts the run to tasks whose description matches.
	// Empty means run everything.
	SelectedTasks []string `json:"selected_tasks,omitempty"`
}

// Execution tracks one attempt to run a flow. The mutable fields (Status,
// Outputs, ErrorMessage, Logs, StartedAt, CompletedAt) are written only by
// the execution engine until a terminal state is reached, after which
// nothing is mutated.
type Execution struct {
	ID            string                 `json:"id" db:"id"`
	FlowID        string                 `json:"flow_id" db:"flow_id"`
	Status        ExecutionStatus        `json:"status" db:"status"`
	ModelOverride *string                `json:"model_override,omitempty" db:"model_override"`
	Provider      *string                `json:"llm_provider,omitempty" db:"llm_provider"`
	BaseURL       *string                `json:"llm_base_url,omitempty" db:"llm_base_url"`
	Inputs        map[string]interface{} `json:"inputs,omitempty" db:"inputs"`
	SelectedTasks []string               `json:"selected_tasks,omitempty" db:"selected_tasks"`
	Outputs       map[string]interface{} `json:"outputs,omitempty" db:"outputs"`
	ErrorMessage  *string                `json:"error_message,omitempty" db:"error_message"`
	Logs          []string               `json:"logs,omitempty" db:"logs"`
	StartedAt     *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// Schedule is a standing cron trigger bound to one flow. LastRunAt and
// NextRunAt are owned exclusively by the scheduler.
type Schedule struct {
	ID             string                 `json:"id" db:"id"`
	FlowID         string                 `json:"flow_id" db:"flow_id"`
	Name           string                 `json:"name" db:"name"`
	CronExpression string                 `json:"cron_expression" db:"cron_expression"`
	ModelOverride  *string                `json:"model_override,omitempty" db:"model_override"`
	Provider       *string                `json:"llm_provider,omitempty" db:"llm_provider"`
	BaseURL        *string                `json:"llm_base_url,omitempty" db:"llm_base_url"`
	Inputs         map[string]interface{} `json:"inputs,omitempty" db:"inputs"`
	SelectedTasks  []string               `json:"selected_tasks,omitempty" db:"selected_tasks"`
	IsActive       bool                   `json:"is_active" db:"is_active"`
	LastRunAt      *time.Time             `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt      *time.Time             `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// ExecutionConfig builds the snapshot copied into executions spawned from
// this schedule.
func (s *Schedule) ExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		ModelOverride: s.ModelOverride,
		Provider:      s.Provider,
		BaseURL:       s.BaseURL,
		Inputs:        s.Inputs,
		SelectedTasks: s.SelectedTasks,
	}
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
