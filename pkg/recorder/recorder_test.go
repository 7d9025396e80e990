package recorder

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowengine/pkg/mocks"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func result(nodeID string) models.NodeResult {
	return models.NodeResult{NodeID: nodeID, NodeType: models.NodeTypeAction, Status: models.StepStatusSuccess, Output: map[string]any{"n": nodeID}}
}

func TestDurable_MonotonicWithFrozenClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC))
	steps := file.NewStepRepository(t.TempDir())

	var observed []string

	rec := NewDurable(steps, clock, slog.Default(), func(_ context.Context, step *models.ExecutionStep) {
		observed = append(observed, step.NodeID)
	})

	for _, id := range []string{"a", "b", "c"} {
		_, err := rec.Record(t.Context(), "exec-1", result(id))
		require.NoError(t, err)
	}

	journal, err := steps.ListByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, journal, 3)

	for i := 1; i < len(journal); i++ {
		assert.True(t, journal[i].ExecutedAt.After(journal[i-1].ExecutedAt))
	}

	assert.Equal(t, 0, journal[0].ExecutedAt.Nanosecond()%1000)
	assert.NotEqual(t, journal[0].ID, journal[1].ID)
	assert.Equal(t, []string{"a", "b", "c"}, observed)
}

func TestDurable_ContinuesAfterPersistedSteps(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	steps := file.NewStepRepository(t.TempDir())

	future := clock.Now().Add(time.Hour)
	require.NoError(t, steps.Append(t.Context(), &models.ExecutionStep{ID: "old", ExecutionID: "exec-1", NodeID: "wait", ExecutedAt: future}))

	// a fresh recorder, as after a restart, must not write behind the journal
	rec := NewDurable(steps, clock, slog.Default())

	step, err := rec.Record(t.Context(), "exec-1", result("after"))
	require.NoError(t, err)
	assert.Equal(t, future.Add(time.Microsecond), step.ExecutedAt)
}

func TestDurable_AppendFailureIsReturned(t *testing.T) {
	t.Parallel()

	steps := &mocks.MockStepRepository{}
	steps.On("Last", mock.Anything, "exec-1").Return(nil, nil)
	steps.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	rec := NewDurable(steps, clockwork.NewFakeClock(), slog.Default())

	_, err := rec.Record(t.Context(), "exec-1", result("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	steps.AssertExpectations(t)
}

func TestStream_SinksEveryStep(t *testing.T) {
	t.Parallel()

	var streamed []models.ExecutionStep

	rec := NewStream(clockwork.NewFakeClock(), func(step models.ExecutionStep) {
		streamed = append(streamed, step)
	})

	for _, id := range []string{"a", "b"} {
		_, err := rec.Record(t.Context(), "dry-1", result(id))
		require.NoError(t, err)
	}

	require.Len(t, streamed, 2)
	assert.Equal(t, "a", streamed[0].NodeID)
	assert.True(t, streamed[1].ExecutedAt.After(streamed[0].ExecutedAt))
	assert.Len(t, rec.Steps(), 2)
}

func TestTimestamps_SeedDoesNotBlockOtherExecutions(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	times := newTimestamps(clock)

	seeding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan time.Time, 1)

	go func() {
		at, err := times.next("slow", func() (time.Time, error) {
			close(seeding)
			<-release

			return clock.Now().Add(time.Hour), nil
		})
		assert.NoError(t, err)
		done <- at
	}()

	<-seeding

	at, err := times.next("fast", nil)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), at)

	close(release)

	select {
	case slow := <-done:
		assert.Equal(t, clock.Now().Add(time.Hour+time.Microsecond).UTC(), slow)
	case <-time.After(5 * time.Second):
		t.Fatal("seeded timestamp never returned")
	}
}
