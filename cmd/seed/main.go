package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"crewflow/backend/internal/config"
	"crewflow/backend/internal/flow"
	"crewflow/backend/internal/logging"
	"crewflow/backend/internal/repository"
	"crewflow/backend/pkg/models"
)

const researchFlowYAML = `name: research-brief
description: Researches a topic and writes a short brief
agents:
  - role: researcher
    goal: Gather relevant facts about the topic
    backstory: A meticulous analyst who cites sources
  - role: writer
    goal: Turn research notes into a readable brief
    backstory: A technical writer with an eye for structure
tasks:
  - description: Collect key facts about the given topic
    agent: researcher
    expected_output: A bullet list of facts
  - description: Write a one-page brief from the collected facts
    agent: writer
    expected_output: A short structured brief
`

const digestFlowYAML = `name: daily-digest
description: Summarizes yesterday's activity into a digest
agents:
  - role: summarizer
    goal: Condense activity logs into highlights
    backstory: Keeps digests short and skimmable
tasks:
  - description: Summarize the provided activity log
    agent: summarizer
    expected_output: A five-bullet digest
`

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	flows := []struct {
		Name        string
		Description string
		YAML        string
	}{
		{"research-brief", "Researches a topic and writes a short brief.", researchFlowYAML},
		{"daily-digest", "Summarizes yesterday's activity into a digest.", digestFlowYAML},
	}

	seeded := map[string]string{}
	for _, f := range flows {
		if existing, err := store.GetFlowByName(ctx, f.Name); err == nil {
			logger.Info("Skipping existing flow %s", f.Name)
			seeded[f.Name] = existing.ID
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Fatalf("Failed to check for flow %s: %v", f.Name, err)
		}

		isValid, validationErrors := flow.Validate(f.YAML)
		now := time.Now().UTC()
		description := f.Description
		fl := &models.Flow{
			ID:               uuid.New().String(),
			Name:             f.Name,
			Description:      &description,
			YAMLContent:      f.YAML,
			IsValid:          isValid,
			ValidationErrors: validationErrors,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := store.CreateFlow(ctx, fl); err != nil {
			log.Printf("Failed to create flow %s: %v", f.Name, err)
			continue
		}
		seeded[f.Name] = fl.ID
		logger.Info("Seeded flow %s (%s)", f.Name, fl.ID)
	}

	// A nightly schedule for the digest flow, inactive so seeding a dev
	// database does not start firing executions.
	if flowID, ok := seeded["daily-digest"]; ok {
		flowFilter := flowID
		existing, err := store.ListSchedules(ctx, &flowFilter)
		if err != nil {
			log.Fatalf("Failed to list schedules: %v", err)
		}
		if len(existing) == 0 {
			now := time.Now().UTC()
			sc := &models.Schedule{
				ID:             uuid.New().String(),
				FlowID:         flowID,
				Name:           "nightly-digest",
				CronExpression: "0 0 * * *",
				IsActive:       false,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := store.CreateSchedule(ctx, sc); err != nil {
				log.Printf("Failed to create schedule: %v", err)
			} else {
				logger.Info("Seeded schedule %s (%s)", sc.Name, sc.ID)
			}
		}
	}

	logger.Info("Seeding complete!")
}
