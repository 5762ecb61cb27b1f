package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"crewflow/backend/internal/flow"
	"crewflow/backend/pkg/models"
)

// TaskResult is the output of one completed task, passed to later tasks in
// the same run so they can build on earlier work.
type TaskResult struct {
	Task   string `json:"task"`
	Output string `json:"output"`
}

// AgentRunner is the external capability that performs a task's actual
// work. The engine only requires this synchronous-per-call contract; how
// the work happens (real LLM call, sidecar, simulation) is not its concern.
type AgentRunner interface {
	Run(ctx context.Context, task flow.Task, agent flow.Agent, cfg models.ExecutionConfig, prior []TaskResult) (string, error)
}

// SimulatedRunner is the degraded-mode runner used when no real agent
// backend is configured. Its output is deterministic so the lifecycle and
// broadcast contract stay testable without any agent infrastructure.
type SimulatedRunner struct{}

// Run produces a clearly marked placeholder result.
func (SimulatedRunner) Run(ctx context.Context, task flow.Task, agent flow.Agent, cfg models.ExecutionConfig, prior []TaskResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[simulated] agent %q completed task %q", agent.Role, task.Description), nil
}

// HTTPAgentRunner delegates task execution to an agent sidecar over HTTP.
type HTTPAgentRunner struct {
	url    string
	client *http.Client
}

// NewHTTPAgentRunner creates a runner that posts tasks to the sidecar at url.
func NewHTTPAgentRunner(url string) *HTTPAgentRunner {
	return &HTTPAgentRunner{url: url, client: http.DefaultClient}
}

type runRequest struct {
	Task         flow.Task              `json:"task"`
	Agent        flow.Agent             `json:"agent"`
	Model        *string                `json:"model,omitempty"`
	Provider     *string                `json:"provider,omitempty"`
	BaseURL      *string                `json:"base_url,omitempty"`
	Inputs       map[string]interface{} `json:"inputs,omitempty"`
	PriorOutputs []TaskResult           `json:"prior_outputs,omitempty"`
}

type runResponse struct {
	Output string `json:"output"`
}

// Run posts the task to the sidecar and returns its output text.
func (r *HTTPAgentRunner) Run(ctx context.Context, task flow.Task, agent flow.Agent, cfg models.ExecutionConfig, prior []TaskResult) (string, error) {
	body, err := json.Marshal(runRequest{
		Task:         task,
		Agent:        agent,
		Model:        cfg.ModelOverride,
		Provider:     cfg.Provider,
		BaseURL:      cfg.BaseURL,
		Inputs:       cfg.Inputs,
		PriorOutputs: prior,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.url+"/run", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent runner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent runner returned status %d", resp.StatusCode)
	}

	var result runResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode agent runner response: %w", err)
	}

	return result.Output, nil
}
