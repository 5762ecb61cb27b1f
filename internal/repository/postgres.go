package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crewflow/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS flows (
			id UUID PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			yaml_content TEXT NOT NULL,
			is_valid BOOLEAN NOT NULL DEFAULT false,
			validation_errors JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS executions (
			id UUID PRIMARY KEY,
			flow_id UUID NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			model_override TEXT,
			llm_provider TEXT,
			llm_base_url TEXT,
			inputs JSONB,
			selected_tasks JSONB,
			outputs JSONB,
			error_message TEXT,
			logs JSONB,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_executions_flow_id ON executions(flow_id);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
		CREATE TABLE IF NOT EXISTS schedules (
			id UUID PRIMARY KEY,
			flow_id UUID NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			model_override TEXT,
			llm_provider TEXT,
			llm_base_url TEXT,
			inputs JSONB,
			selected_tasks JSONB,
			is_active BOOLEAN NOT NULL DEFAULT true,
			last_run_at TIMESTAMPTZ,
			next_run_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_flow_id ON schedules(flow_id);
	`)
	return err
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateFlow saves a flow to the store.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO flows (id, name, description, yaml_content, is_valid, validation_errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		flow.ID, flow.Name, flow.Description, flow.YAMLContent, flow.IsValid,
		marshalJSON(flow.ValidationErrors), flow.CreatedAt, flow.UpdatedAt)
	return err
}

// GetFlow retrieves a flow by its ID.
func (s *PostgresStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	return s.scanFlow(s.db.QueryRow(ctx, `
		SELECT id, name, description, yaml_content, is_valid, validation_errors, created_at, updated_at
		FROM flows WHERE id = $1`, id))
}

// GetFlowByName retrieves a flow by its unique name.
func (s *PostgresStore) GetFlowByName(ctx context.Context, name string) (*models.Flow, error) {
	return s.scanFlow(s.db.QueryRow(ctx, `
		SELECT id, name, description, yaml_content, is_valid, validation_errors, created_at, updated_at
		FROM flows WHERE name = $1`, name))
}

// ListFlows returns all flows.
func (s *PostgresStore) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, yaml_content, is_valid, validation_errors, created_at, updated_at
		FROM flows ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		flow, err := s.scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// UpdateFlow updates an existing flow.
func (s *PostgresStore) UpdateFlow(ctx context.Context, flow *models.Flow) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE flows SET name = $1, description = $2, yaml_content = $3, is_valid = $4,
			validation_errors = $5, updated_at = $6
		WHERE id = $7`,
		flow.Name, flow.Description, flow.YAMLContent, flow.IsValid,
		marshalJSON(flow.ValidationErrors), flow.UpdatedAt, flow.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFlow removes a flow and, via cascade, its executions and schedules.
func (s *PostgresStore) DeleteFlow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExecution saves an execution record.
func (s *PostgresStore) CreateExecution(ctx context.Context, e *models.Execution) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO executions (id, flow_id, status, model_override, llm_provider, llm_base_url,
			inputs, selected_tasks, outputs, error_message, logs, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.FlowID, e.Status, e.ModelOverride, e.Provider, e.BaseURL,
		marshalJSON(e.Inputs), marshalJSON(e.SelectedTasks), marshalJSON(e.Outputs),
		e.ErrorMessage, marshalJSON(e.Logs), e.StartedAt, e.CompletedAt, e.CreatedAt)
	return err
}

// GetExecution retrieves an execution by its ID.
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	return s.scanExecution(s.db.QueryRow(ctx, `
		SELECT id, flow_id, status, model_override, llm_provider, llm_base_url,
			inputs, selected_tasks, outputs, error_message, logs, started_at, completed_at, created_at
		FROM executions WHERE id = $1`, id))
}

// ListExecutions returns executions newest first, optionally filtered by flow.
func (s *PostgresStore) ListExecutions(ctx context.Context, flowID *string) ([]*models.Execution, error) {
	query := `
		SELECT id, flow_id, status, model_override, llm_provider, llm_base_url,
			inputs, selected_tasks, outputs, error_message, logs, started_at, completed_at, created_at
		FROM executions`
	args := []interface{}{}
	if flowID != nil {
		query += ` WHERE flow_id = $1`
		args = append(args, *flowID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// UpdateExecution updates an execution's mutable fields.
func (s *PostgresStore) UpdateExecution(ctx context.Context, e *models.Execution) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET status = $1, outputs = $2, error_message = $3, logs = $4,
			started_at = $5, completed_at = $6
		WHERE id = $7`,
		e.Status, marshalJSON(e.Outputs), e.ErrorMessage, marshalJSON(e.Logs),
		e.StartedAt, e.CompletedAt, e.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExecution removes an execution record.
func (s *PostgresStore) DeleteExecution(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSchedule saves a schedule.
func (s *PostgresStore) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO schedules (id, flow_id, name, cron_expression, model_override, llm_provider,
			llm_base_url, inputs, selected_tasks, is_active, last_run_at, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sc.ID, sc.FlowID, sc.Name, sc.CronExpression, sc.ModelOverride, sc.Provider, sc.BaseURL,
		marshalJSON(sc.Inputs), marshalJSON(sc.SelectedTasks), sc.IsActive,
		sc.LastRunAt, sc.NextRunAt, sc.CreatedAt, sc.UpdatedAt)
	return err
}

// GetSchedule retrieves a schedule by its ID.
func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return s.scanSchedule(s.db.QueryRow(ctx, scheduleColumns+` WHERE id = $1`, id))
}

// ListSchedules returns schedules, optionally filtered by flow.
func (s *PostgresStore) ListSchedules(ctx context.Context, flowID *string) ([]*models.Schedule, error) {
	query := scheduleColumns
	args := []interface{}{}
	if flowID != nil {
		query += ` WHERE flow_id = $1`
		args = append(args, *flowID)
	}
	query += ` ORDER BY created_at`
	return s.querySchedules(ctx, query, args...)
}

// ListActiveSchedules returns every schedule that may fire.
func (s *PostgresStore) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return s.querySchedules(ctx, scheduleColumns+` WHERE is_active ORDER BY created_at`)
}

// UpdateSchedule updates an existing schedule.
func (s *PostgresStore) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE schedules SET name = $1, cron_expression = $2, model_override = $3, llm_provider = $4,
			llm_base_url = $5, inputs = $6, selected_tasks = $7, is_active = $8,
			last_run_at = $9, next_run_at = $10, updated_at = $11
		WHERE id = $12`,
		sc.Name, sc.CronExpression, sc.ModelOverride, sc.Provider, sc.BaseURL,
		marshalJSON(sc.Inputs), marshalJSON(sc.SelectedTasks), sc.IsActive,
		sc.LastRunAt, sc.NextRunAt, sc.UpdatedAt, sc.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScheduleRunTimes writes only the run-time fields of a schedule.
func (s *PostgresStore) UpdateScheduleRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`,
		lastRunAt, nextRunAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *PostgresStore) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const scheduleColumns = `
	SELECT id, flow_id, name, cron_expression, model_override, llm_provider, llm_base_url,
		inputs, selected_tasks, is_active, last_run_at, next_run_at, created_at, updated_at
	FROM schedules`

func (s *PostgresStore) querySchedules(ctx context.Context, query string, args ...interface{}) ([]*models.Schedule, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		sc, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *PostgresStore) scanFlow(row pgx.Row) (*models.Flow, error) {
	var f models.Flow
	var validationErrors []byte
	err := row.Scan(&f.ID, &f.Name, &f.Description, &f.YAMLContent, &f.IsValid,
		&validationErrors, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := unmarshalJSON(validationErrors, &f.ValidationErrors); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	var inputs, selectedTasks, outputs, logs []byte
	err := row.Scan(&e.ID, &e.FlowID, &e.Status, &e.ModelOverride, &e.Provider, &e.BaseURL,
		&inputs, &selectedTasks, &outputs, &e.ErrorMessage, &logs,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	for _, pair := range []struct {
		raw  []byte
		dest interface{}
	}{
		{inputs, &e.Inputs},
		{selectedTasks, &e.SelectedTasks},
		{outputs, &e.Outputs},
		{logs, &e.Logs},
	} {
		if err := unmarshalJSON(pair.raw, pair.dest); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *PostgresStore) scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var sc models.Schedule
	var inputs, selectedTasks []byte
	err := row.Scan(&sc.ID, &sc.FlowID, &sc.Name, &sc.CronExpression,
		&sc.ModelOverride, &sc.Provider, &sc.BaseURL, &inputs, &selectedTasks,
		&sc.IsActive, &sc.LastRunAt, &sc.NextRunAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := unmarshalJSON(inputs, &sc.Inputs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(selectedTasks, &sc.SelectedTasks); err != nil {
		return nil, err
	}
	return &sc, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// marshalJSON serializes a value for a JSONB column, mapping empty values
// to SQL NULL.
func marshalJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			return nil
		}
	case []string:
		if len(val) == 0 {
			return nil
		}
	case nil:
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Domain values are plain maps and slices; this cannot fail for
		// anything the models produce.
		panic(fmt.Sprintf("repository: marshal json: %v", err))
	}
	return b
}

func unmarshalJSON(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
