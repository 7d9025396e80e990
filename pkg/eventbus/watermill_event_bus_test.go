package eventbus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowengine/pkg/channels/gochannel"
	"github.com/dukex/flowengine/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoutesByType(t *testing.T) {
	t.Parallel()

	bus := newBus(t)

	completed := make(chan *events.ExecutionCompleted, 1)
	external := make(chan *events.ExternalEventReceived, 1)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.ExecutionCompleted)

		return nil
	}))
	require.NoError(t, bus.Handle(events.ExternalEventReceivedEvent, func(_ context.Context, event any) error {
		external <- event.(*events.ExternalEventReceived)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "exec-1", events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, "wf-1", "exec-1"),
		Duration:  time.Second,
	}))
	require.NoError(t, bus.Publish(t.Context(), "approval_received", events.ExternalEventReceived{
		BaseEvent:      events.NewBaseEvent(events.ExternalEventReceivedEvent, "", ""),
		EventType:      "approval_received",
		CorrelationKey: "r-1",
		Payload:        map[string]any{"approved": true},
	}))

	select {
	case event := <-completed:
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, time.Second, event.Duration)
	case <-time.After(2 * time.Second):
		t.Fatal("completed event not delivered")
	}

	select {
	case event := <-external:
		assert.Equal(t, "approval_received", event.EventType)
		assert.Equal(t, true, event.Payload["approved"])
	case <-time.After(2 * time.Second):
		t.Fatal("external event not delivered")
	}
}

func TestNewEvent_UnknownType(t *testing.T) {
	t.Parallel()

	assert.Nil(t, newEvent("workflow.triggered"))
	assert.IsType(t, &events.StepRecorded{}, newEvent(events.StepRecordedEvent))
	assert.Equal(t, events.ExternalTopic, topicFor(events.ExternalEventReceivedEvent))
	assert.Equal(t, events.Topic, topicFor(events.ExecutionFailedEvent))
}
