// Package recorder appends one ExecutionStep per node visit, with strictly increasing
// executed_at per execution.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

// Recorder turns a node result into a step record.
type Recorder interface {
	Record(ctx context.Context, executionID string, result models.NodeResult) (*models.ExecutionStep, error)
}

// Observer is told about every step after it has been recorded.
type Observer func(ctx context.Context, step *models.ExecutionStep)

// timestamps hands out executed_at values that never repeat or go backwards within an
// execution. Values are truncated to microseconds so they survive a database round trip.
type timestamps struct {
	mu    sync.Mutex
	clock clockwork.Clock
	last  map[string]time.Time
}

func newTimestamps(clock clockwork.Clock) *timestamps {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &timestamps{clock: clock, last: make(map[string]time.Time)}
}

// next returns the timestamp for the next step of executionID. seed is consulted once
// per execution to learn the last persisted value, outside the lock so a slow read only
// delays that execution.
func (t *timestamps) next(executionID string, seed func() (time.Time, error)) (time.Time, error) {
	t.mu.Lock()
	last, known := t.last[executionID]
	t.mu.Unlock()

	if !known && seed != nil {
		persisted, err := seed()
		if err != nil {
			return time.Time{}, err
		}

		t.mu.Lock()
		if current, ok := t.last[executionID]; !ok || persisted.After(current) {
			t.last[executionID] = persisted
		}
		last = t.last[executionID]
		t.mu.Unlock()
	}

	now := t.clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		now = last.Add(time.Microsecond)
	}

	return now, nil
}

func (t *timestamps) commit(executionID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at.After(t.last[executionID]) {
		t.last[executionID] = at
	}
}

func (t *timestamps) forget(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.last, executionID)
}

func newStepID() string {
	return ulid.Make().String()
}

// Durable persists every step before returning, so the caller only proceeds past a node
// once its record is on disk.
type Durable struct {
	steps     persistence.StepRepository
	times     *timestamps
	observers []Observer
	logger    *slog.Logger
}

// NewDurable creates a recorder writing to steps.
func NewDurable(steps persistence.StepRepository, clock clockwork.Clock, logger *slog.Logger, observers ...Observer) *Durable {
	return &Durable{
		steps:     steps,
		times:     newTimestamps(clock),
		observers: observers,
		logger:    logger.With("module", "step_recorder"),
	}
}

func (d *Durable) Record(ctx context.Context, executionID string, result models.NodeResult) (*models.ExecutionStep, error) {
	executedAt, err := d.times.next(executionID, func() (time.Time, error) {
		last, err := d.steps.Last(ctx, executionID)
		if err != nil || last == nil {
			return time.Time{}, err
		}

		return last.ExecutedAt, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read last step: %w", err)
	}

	step := models.StepFromResult(executionID, result)
	step.ID = newStepID()
	step.ExecutedAt = executedAt

	err = d.steps.Append(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("failed to record step for node %s: %w", result.NodeID, err)
	}

	d.times.commit(executionID, executedAt)

	d.logger.DebugContext(ctx, "step recorded",
		"execution_id", executionID,
		"node_id", step.NodeID,
		"status", step.Status,
	)

	for _, observe := range d.observers {
		observe(ctx, step)
	}

	return step, nil
}

// Forget drops the cached timestamp of a finished execution.
func (d *Durable) Forget(executionID string) {
	d.times.forget(executionID)
}

// Stream keeps steps in memory and hands each one to a sink as soon as it is recorded.
// Nothing is persisted.
type Stream struct {
	mu    sync.Mutex
	times *timestamps
	sink  func(models.ExecutionStep)
	steps []*models.ExecutionStep
}

// NewStream creates a streaming recorder. sink may be nil.
func NewStream(clock clockwork.Clock, sink func(models.ExecutionStep)) *Stream {
	return &Stream{times: newTimestamps(clock), sink: sink}
}

func (s *Stream) Record(_ context.Context, executionID string, result models.NodeResult) (*models.ExecutionStep, error) {
	executedAt, err := s.times.next(executionID, nil)
	if err != nil {
		return nil, err
	}

	s.times.commit(executionID, executedAt)

	step := models.StepFromResult(executionID, result)
	step.ID = newStepID()
	step.ExecutedAt = executedAt

	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()

	if s.sink != nil {
		s.sink(*step)
	}

	return step, nil
}

// Steps returns everything recorded so far, in order.
func (s *Stream) Steps() []*models.ExecutionStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ExecutionStep, len(s.steps))
	copy(out, s.steps)

	return out
}
