// Package executor owns the execution lifecycle: it turns a flow
// definition into a tracked, asynchronously running execution record and
// broadcasts every state transition.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewflow/backend/internal/flow"
	"crewflow/backend/internal/hub"
	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Options tunes engine behavior beyond its dependencies.
type Options struct {
	// TaskTimeout bounds each agent-runner call. Zero means no timeout,
	// matching the original design; setting it converts a hung runner
	// call into a failed execution instead of one stuck in running.
	TaskTimeout time.Duration
}

// Engine runs flows as background units of work. Each Start call creates
// an independent execution; concurrent executions of the same flow are
// permitted and never serialized.
type Engine struct {
	store   repository.Store
	hub     *hub.Hub
	runner  AgentRunner
	logger  Logger
	options Options

	wg sync.WaitGroup
}

// NewEngine creates an Engine. runner may be nil, in which case every
// execution degrades to the simulated runner.
func NewEngine(store repository.Store, h *hub.Hub, runner AgentRunner, logger Logger, options Options) *Engine {
	return &Engine{
		store:   store,
		hub:     h,
		runner:  runner,
		logger:  logger,
		options: options,
	}
}

// Start creates a pending execution for the flow and schedules the run in
// the background. It returns as soon as the record is durable; callers
// never block on task execution. The returned execution is the caller's
// snapshot and is not mutated by the engine afterwards.
func (e *Engine) Start(ctx context.Context, fl *models.Flow, cfg models.ExecutionConfig) (*models.Execution, error) {
	def, err := flow.Parse(fl.YAMLContent)
	if err != nil {
		return nil, fmt.Errorf("flow %s has unparseable content: %w", fl.ID, err)
	}

	now := time.Now().UTC()
	execution := &models.Execution{
		ID:            uuid.New().String(),
		FlowID:        fl.ID,
		Status:        models.ExecutionStatusPending,
		ModelOverride: cfg.ModelOverride,
		Provider:      cfg.Provider,
		BaseURL:       cfg.BaseURL,
		Inputs:        cfg.Inputs,
		SelectedTasks: cfg.SelectedTasks,
		CreatedAt:     now,
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	e.logger.Info("executor: created execution %s for flow %s", execution.ID, fl.ID)

	run := *execution
	e.wg.Add(1)
	go e.run(&run, def)

	return execution, nil
}

// Wait blocks until every in-flight execution has reached a terminal
// state. Used during shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run drives one execution from pending to a terminal state. Any panic in
// the unit is converted into a failed execution rather than a process
// crash.
func (e *Engine) run(execution *models.Execution, def *flow.Definition) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("executor: panic in execution %s: %v", execution.ID, r)
			e.fail(execution, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// The run is deliberately detached from the caller's request context:
	// an execution outlives the HTTP request that started it.
	ctx := context.Background()

	started := time.Now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started
	e.appendLog(execution, "Starting flow execution: %s", def.Name)
	if execution.ModelOverride != nil {
		e.appendLog(execution, "Using model override: %s", *execution.ModelOverride)
	}
	if len(execution.Inputs) > 0 {
		e.appendLog(execution, "Inputs: %v", execution.Inputs)
	}

	if err := e.save(ctx, execution); err != nil {
		return
	}
	e.publish(hub.Event{
		Type: hub.EventTypeExecutionUpdate,
		Data: map[string]interface{}{
			"execution_id": execution.ID,
			"status":       string(models.ExecutionStatusRunning),
			"started_at":   started.Format(time.RFC3339),
		},
	})

	resolved, warnings := flow.SelectTasks(def, execution.SelectedTasks)
	for _, w := range warnings {
		e.appendLog(execution, "Warning: %s", w)
	}
	if len(resolved) == 0 {
		if len(execution.SelectedTasks) > 0 {
			e.fail(execution, fmt.Sprintf(
				"no runnable tasks: none of the %d selected tasks resolved against flow %q",
				len(execution.SelectedTasks), def.Name))
		} else {
			e.fail(execution, fmt.Sprintf("no runnable tasks defined by flow %q", def.Name))
		}
		return
	}

	runner := e.runner
	if runner == nil {
		runner = SimulatedRunner{}
		e.appendLog(execution, "Agent runner not configured, using simulated execution")
	}

	cfg := models.ExecutionConfig{
		ModelOverride: execution.ModelOverride,
		Provider:      execution.Provider,
		BaseURL:       execution.BaseURL,
		Inputs:        execution.Inputs,
	}

	taskOutputs := make(map[string]interface{}, len(resolved))
	var prior []TaskResult

	for i, rt := range resolved {
		e.appendLog(execution, "Task %d/%d starting: %s (agent: %s)",
			i+1, len(resolved), rt.Task.Description, rt.Agent.Role)
		if err := e.save(ctx, execution); err != nil {
			return
		}

		taskStart := time.Now()
		output, err := e.runTask(ctx, runner, rt, cfg, prior)
		elapsed := time.Since(taskStart)

		if err != nil {
			e.appendLog(execution, "Task %d/%d failed after %s: %v", i+1, len(resolved), elapsed, err)
			// Later tasks may depend on this one's output, so the rest
			// of the run is aborted. Outputs of completed tasks are kept
			// for diagnostics.
			execution.Outputs = aggregateOutputs(taskOutputs, execution.StartedAt)
			e.fail(execution, fmt.Sprintf("task %q failed: %v", rt.Task.Description, err))
			return
		}

		e.appendLog(execution, "Task %d/%d completed in %s", i+1, len(resolved), elapsed)
		taskOutputs[rt.Task.Description] = output
		prior = append(prior, TaskResult{Task: rt.Task.Description, Output: output})
	}

	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusSuccess
	execution.CompletedAt = &completed
	execution.Outputs = aggregateOutputs(taskOutputs, execution.StartedAt)
	e.appendLog(execution, "Flow execution completed successfully")

	if err := e.save(ctx, execution); err != nil {
		return
	}
	e.publish(hub.Event{
		Type: hub.EventTypeExecutionUpdate,
		Data: map[string]interface{}{
			"execution_id": execution.ID,
			"status":       string(models.ExecutionStatusSuccess),
			"completed_at": completed.Format(time.RFC3339),
			"outputs":      execution.Outputs,
		},
	})

	e.logger.Info("executor: execution %s completed successfully", execution.ID)
}

// runTask invokes the runner for one task, applying the configured
// per-task timeout when set.
func (e *Engine) runTask(ctx context.Context, runner AgentRunner, rt flow.ResolvedTask, cfg models.ExecutionConfig, prior []TaskResult) (string, error) {
	taskCtx := ctx
	if e.options.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.options.TaskTimeout)
		defer cancel()
	}
	return runner.Run(taskCtx, rt.Task, rt.Agent, cfg, prior)
}

// fail moves the execution to its terminal failed state and broadcasts it.
func (e *Engine) fail(execution *models.Execution, message string) {
	if execution.Status.Terminal() {
		return
	}
	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = &message
	execution.CompletedAt = &completed
	e.appendLog(execution, "Flow execution failed: %s", message)

	if err := e.save(context.Background(), execution); err != nil {
		return
	}
	e.publish(hub.Event{
		Type: hub.EventTypeExecutionUpdate,
		Data: map[string]interface{}{
			"execution_id": execution.ID,
			"status":       string(models.ExecutionStatusFailed),
			"error":        message,
		},
	})

	e.logger.Error("executor: execution %s failed: %s", execution.ID, message)
}

func (e *Engine) appendLog(execution *models.Execution, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	execution.Logs = append(execution.Logs, line)
}

// save persists the execution. The store write must succeed before the
// matching broadcast fires; on a store error the run is abandoned and the
// error logged, since there is nowhere durable left to record state.
func (e *Engine) save(ctx context.Context, execution *models.Execution) error {
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("executor: failed to persist execution %s: %v", execution.ID, err)
		return err
	}
	return nil
}

func (e *Engine) publish(event hub.Event) {
	if e.hub != nil {
		e.hub.Publish(event)
	}
}

func aggregateOutputs(taskOutputs map[string]interface{}, startedAt *time.Time) map[string]interface{} {
	outputs := map[string]interface{}{
		"tasks": taskOutputs,
	}
	if startedAt != nil {
		outputs["execution_time"] = time.Since(*startedAt).Seconds()
	}
	return outputs
}
