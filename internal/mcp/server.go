package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

// Starter launches an execution for a flow. Satisfied by the execution engine.
type Starter interface {
	Start(ctx context.Context, fl *models.Flow, cfg models.ExecutionConfig) (*models.Execution, error)
}

type Server struct {
	mcpServer *server.MCPServer
	store     repository.Store
	engine    Starter
}

func NewServer(store repository.Store, engine Starter) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Flow Manager",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		store:  store,
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_flows",
			mcp.WithDescription("List all stored flow definitions"),
		),
		s.handleListFlows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_flow",
			mcp.WithDescription("Start an execution of a flow by name"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the flow to run")),
		),
		s.handleRunFlow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Fetch an execution's status, logs and outputs"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGetExecution,
	)
}

func (s *Server) handleListFlows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flows, err := s.store.ListFlows(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list flows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("Missing required parameter: name"), nil
	}

	fl, err := s.store.GetFlowByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No flow named %q", name)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load flow: %v", err)), nil
	}
	if !fl.IsValid {
		return mcp.NewToolResultError(fmt.Sprintf("Flow %q failed validation and cannot be executed", name)), nil
	}

	execution, err := s.engine.Start(ctx, fl, models.ExecutionConfig{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start execution: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	execution, err := s.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No execution with id %q", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load execution: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
