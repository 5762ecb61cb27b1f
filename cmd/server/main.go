package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"

	"crewflow/backend/internal/api"
	"crewflow/backend/internal/auth"
	"crewflow/backend/internal/config"
	"crewflow/backend/internal/executor"
	"crewflow/backend/internal/hub"
	"crewflow/backend/internal/logging"
	"crewflow/backend/internal/mcp"
	"crewflow/backend/internal/repository"
	"crewflow/backend/internal/scheduler"
	"crewflow/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	demo := flag.Bool("demo", false, "Run with an in-memory store instead of Postgres")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded from %s", viper.ConfigFileUsed())

	logger.Info("Starting Flow Manager Service")

	// Initialize persistence
	var store repository.Store
	if *demo {
		logger.Warn("Demo mode: using in-memory store, nothing is persisted")
		store = repository.NewMemoryStore()
	} else {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize database: %v", err)
			log.Fatalf("Database initialization failed: %v", err)
		}
		defer dbPool.Close()

		pg := repository.NewPostgresStore(dbPool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("Failed to run migrations: %v", err)
			log.Fatalf("Migration failed: %v", err)
		}
		store = pg

		logger.Info("Database connected")
	}

	// Broadcast hub for live execution updates
	updates := hub.New(logger)

	// Execution engine. Without a configured agent runner it degrades to
	// the simulated path so flows can still be exercised end to end.
	var runner executor.AgentRunner
	if cfg.AgentRunner.URL != "" {
		runner = executor.NewHTTPAgentRunner(cfg.AgentRunner.URL)
		logger.Info("Agent runner configured at %s", cfg.AgentRunner.URL)
	} else {
		logger.Warn("No agent runner configured, executions run simulated")
	}
	engine := executor.NewEngine(store, updates, runner, logger, executor.Options{
		TaskTimeout: cfg.AgentRunner.TaskTimeout,
	})

	// Scheduler: arm persisted schedules, then start the timer loop
	sched := scheduler.NewScheduler(store, engine, logger, scheduler.ParsePolicy(cfg.Scheduler.MisfirePolicy))
	if err := sched.Load(ctx); err != nil {
		logger.Error("Failed to load schedules: %v", err)
		log.Fatalf("Scheduler initialization failed: %v", err)
	}
	sched.Start()

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
		}))
	}

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize auth: %v", err)
		log.Fatalf("Auth initialization failed: %v", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API and websocket handlers
	apiServer := api.NewServer(store, engine, sched, updates, logger)
	apiServer.RegisterRoutes(e, echo.WrapMiddleware(authz.RequireAuth))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(store, engine)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s (tls=%t)", cfg.Server.Address, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("Failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		// Stop firing new executions, then let in-flight runs reach a
		// terminal state before exiting.
		sched.Stop()
		engine.Wait()

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
