package definition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
)

// Store holds validated workflow definitions. Only definitions that pass Validate are saved.
type Store struct {
	repo      persistence.WorkflowRepository
	validator *Validator
	logger    *slog.Logger
}

// NewStore creates a definition store backed by repo.
func NewStore(repo persistence.WorkflowRepository, logger *slog.Logger) (*Store, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}

	return &Store{
		repo:      repo,
		validator: v,
		logger:    logger.With("module", "definition_store"),
	}, nil
}

// Validate checks workflow without storing it.
func (s *Store) Validate(workflow *models.Workflow) ValidationResult {
	return s.validator.Validate(workflow)
}

// Get returns the definition with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// Save validates workflow and stores it, failing with *models.InvalidGraphError listing every violation.
func (s *Store) Save(ctx context.Context, workflow *models.Workflow) error {
	result := s.validator.Validate(workflow)
	if !result.Valid {
		id := ""
		if workflow != nil {
			id = workflow.ID
		}

		s.logger.InfoContext(ctx, "rejected invalid workflow", "workflow_id", id, "violations", len(result.Violations))

		return result.Err(id)
	}

	err := s.repo.Save(ctx, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.InfoContext(ctx, "saved workflow", "workflow_id", workflow.ID, "nodes", len(workflow.Nodes))

	return nil
}

// List returns every stored definition.
func (s *Store) List(ctx context.Context) ([]*models.Workflow, error) {
	return s.repo.List(ctx)
}

// Delete removes a definition. Existing executions keep their records.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
