package mocks

import (
	"context"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockStepRepository is a mock implementation of persistence.StepRepository interface.
type MockStepRepository struct {
	mock.Mock
}

func (m *MockStepRepository) Append(ctx context.Context, step *models.ExecutionStep) error {
	args := m.Called(ctx, step)

	return args.Error(0)
}

func (m *MockStepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionStep), args.Error(1)
}

func (m *MockStepRepository) Last(ctx context.Context, executionID string) (*models.ExecutionStep, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionStep), args.Error(1)
}
