package mocks

import (
	"context"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/stretchr/testify/mock"
)

// MockAction is a mock implementation of capability.Action interface.
type MockAction struct {
	mock.Mock
}

func (m *MockAction) Invoke(ctx context.Context, req capability.ActionRequest) (map[string]any, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// MockAgent is a mock implementation of capability.Agent interface.
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Run(ctx context.Context, req capability.AgentRequest) (map[string]any, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
