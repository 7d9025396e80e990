package waitresume

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowengine/pkg/events"
	"github.com/dukex/flowengine/pkg/mocks"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func at(minutes int) *time.Time {
	t := time.Date(2026, 1, 1, 12, minutes, 0, 0, time.UTC)

	return &t
}

// exerciseIndex runs the behaviour every Index must share.
func exerciseIndex(t *testing.T, idx Index) {
	t.Helper()

	ctx := t.Context()

	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "b", EventType: "approval_received", CorrelationKey: "r-2", ResumeAt: at(10)}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "a", EventType: "approval_received"}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "c", EventType: "payment_settled", ResumeAt: at(5)}))

	found, err := idx.Find(ctx, "approval_received")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].ExecutionID)
	assert.Equal(t, "r-2", found[1].CorrelationKey)

	due, err := idx.Due(ctx, *at(7))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c", due[0].ExecutionID)

	due, err = idx.Due(ctx, *at(10))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, []string{"c", "b"}, []string{due[0].ExecutionID, due[1].ExecutionID})

	// re-adding moves the entry to its new event type
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "b", EventType: "payment_settled"}))

	found, err = idx.Find(ctx, "approval_received")
	require.NoError(t, err)
	require.Len(t, found, 1)

	due, err = idx.Due(ctx, *at(30))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, idx.Remove(ctx, "c"))
	require.NoError(t, idx.Remove(ctx, "missing"))

	found, err = idx.Find(ctx, "payment_settled")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].ExecutionID)

	found, err = idx.Find(ctx, "never_seen")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryIndex(t *testing.T) {
	t.Parallel()

	exerciseIndex(t, NewMemoryIndex())
}

func TestEntry_Matches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry Entry
		event string
		key   string
		want  bool
	}{
		{"uncorrelated accepts any key", Entry{EventType: "e"}, "e", "anything", true},
		{"uncorrelated accepts no key", Entry{EventType: "e"}, "e", "", true},
		{"correlated needs equal key", Entry{EventType: "e", CorrelationKey: "r-1"}, "e", "r-1", true},
		{"correlated rejects other key", Entry{EventType: "e", CorrelationKey: "r-1"}, "e", "r-2", false},
		{"correlated rejects missing key", Entry{EventType: "e", CorrelationKey: "r-1"}, "e", "", false},
		{"other event type", Entry{EventType: "e"}, "f", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.entry.Matches(tt.event, tt.key))
		})
	}
}

type resumerFunc func(ctx context.Context, executionID, eventType string, payload map[string]any) (*models.Execution, error)

func (f resumerFunc) Resume(ctx context.Context, executionID, eventType string, payload map[string]any) (*models.Execution, error) {
	return f(ctx, executionID, eventType, payload)
}

func TestNotifier_ResumesMatchingWaiters(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "exec-1", EventType: "approval_received", CorrelationKey: "r-1"}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "exec-2", EventType: "approval_received", CorrelationKey: "r-2"}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "exec-3", EventType: "approval_received"}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "exec-4", EventType: "approval_received"}))

	var payloads []map[string]any

	notifier := NewNotifier(idx, resumerFunc(func(_ context.Context, id, _ string, payload map[string]any) (*models.Execution, error) {
		if id == "exec-4" {
			return nil, models.NewStateError("resume", id, models.ExecutionStatusCancelled)
		}

		payloads = append(payloads, payload)

		return &models.Execution{ID: id}, nil
	}), slog.Default())

	resumed, err := notifier.Notify(ctx, "approval_received", "r-1", map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1", "exec-3"}, resumed)
	assert.Len(t, payloads, 2)

	// the stale waiter is dropped from the index
	remaining, err := idx.Find(ctx, "approval_received")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestNotifier_ReportsResumeFailures(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "exec-1", EventType: "e"}))
	require.NoError(t, idx.Add(ctx, Entry{ExecutionID: "gone", EventType: "e"}))

	notifier := NewNotifier(idx, resumerFunc(func(_ context.Context, id, _ string, _ map[string]any) (*models.Execution, error) {
		if id == "gone" {
			return nil, persistence.NewExecutionError("get", id, persistence.ErrExecutionNotFound)
		}

		return nil, assert.AnError
	}), slog.Default())

	resumed, err := notifier.Notify(ctx, "e", "", nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, resumed)
}

func TestNotifier_SubscribeRegistersExternalHandler(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.Anything, mock.Anything).Return(nil)

	notifier := NewNotifier(NewMemoryIndex(), resumerFunc(nil), slog.Default())
	require.NoError(t, notifier.Subscribe(bus))

	bus.AssertCalled(t, "Handle", events.ExternalEventReceivedEvent, mock.Anything)
}
