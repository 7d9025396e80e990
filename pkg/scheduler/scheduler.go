// Package scheduler owns executions: it creates them, hands them to workers, and applies
// cancel, resume and timer signals. Every status change happens under a per-execution lock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/dukex/flowengine/pkg/dispatcher"
	"github.com/dukex/flowengine/pkg/eventbus"
	"github.com/dukex/flowengine/pkg/events"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/dukex/flowengine/pkg/recorder"
	"github.com/dukex/flowengine/pkg/sandbox"
	"github.com/dukex/flowengine/pkg/waitresume"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Workflows resolves workflow definitions.
type Workflows interface {
	Get(ctx context.Context, id string) (*models.Workflow, error)
}

// Scheduler is the single writer of Execution records.
type Scheduler struct {
	workflows  Workflows
	executions persistence.ExecutionRepository
	steps      persistence.StepRepository
	recorder   *recorder.Durable
	dispatcher *dispatcher.Dispatcher
	sandbox    *sandbox.Sandbox
	waits      waitresume.Index
	publisher  eventbus.EventPublisher
	metrics    *Metrics
	clock      clockwork.Clock
	logger     *slog.Logger

	workers   int
	queueSize int
	registry  prometheus.Registerer

	locks keyedLocks

	cancelMu sync.Mutex
	cancels  map[string]struct{}

	pool *pool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets how many executions may run at once.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithQueueSize sets how many ready executions are buffered ahead of the workers.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) { s.queueSize = n }
}

// WithClock replaces the wall clock, mainly for tests of timer-driven paths.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithWaitIndex replaces the in-memory wait index.
func WithWaitIndex(index waitresume.Index) Option {
	return func(s *Scheduler) { s.waits = index }
}

// WithPublisher publishes lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = publisher }
}

// WithMetricsRegisterer registers scheduler metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.registry = reg }
}

// New creates a scheduler. executor evaluates live nodes; dry runs use mock capabilities.
func New(
	workflows Workflows,
	store persistence.Persistence,
	executor dispatcher.NodeExecutor,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		workflows:  workflows,
		executions: store.ExecutionRepository(),
		steps:      store.StepRepository(),
		clock:      clockwork.NewRealClock(),
		logger:     logger.With("module", "scheduler"),
		workers:    4,
		queueSize:  1024,
		cancels:    make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.waits == nil {
		s.waits = waitresume.NewMemoryIndex()
	}

	s.metrics = NewMetrics(s.registry)
	s.recorder = recorder.NewDurable(s.steps, s.clock, logger, s.onStep)
	s.dispatcher = dispatcher.New(executor, s.recorder, logger)
	s.sandbox = sandbox.New(s.clock, logger)
	s.pool = newPool(s, s.workers, s.queueSize)

	return s
}

// Index exposes the wait index so notifiers share it.
func (s *Scheduler) Index() waitresume.Index {
	return s.waits
}

// Start creates a pending execution and queues it. It returns before any node runs.
func (s *Scheduler) Start(ctx context.Context, workflowID string, triggerData map[string]any, dryRun bool) (*models.Execution, error) {
	_, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	execution := s.newExecution(workflowID, triggerData, dryRun)

	err = s.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.InfoContext(ctx, "execution created",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"dry_run", dryRun,
	)

	s.pool.enqueue(execution.ID)

	return execution.Clone(), nil
}

// DryRun runs a workflow synchronously in the sandbox. The execution record is kept for
// listings; its steps are streamed to sink and returned, never persisted.
func (s *Scheduler) DryRun(ctx context.Context, workflowID string, triggerData map[string]any, sink func(models.ExecutionStep)) (*sandbox.Result, error) {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	execution := s.newExecution(workflowID, triggerData, true)
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = s.now()

	err = s.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.metrics.executionStarted()

	s.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflowID, execution.ID),
		TriggerData: execution.TriggerData,
		DryRun:      true,
	})

	return s.runSandbox(ctx, execution, wf, sink)
}

func (s *Scheduler) runSandbox(ctx context.Context, execution *models.Execution, wf *models.Workflow, sink func(models.ExecutionStep)) (*sandbox.Result, error) {
	result, err := s.sandbox.Run(ctx, sandbox.Request{
		ExecutionID: execution.ID,
		Workflow:    wf,
		TriggerData: execution.TriggerData,
		Cancelled:   func() bool { return s.cancelRequested(execution.ID) },
	}, sink)
	if err != nil {
		return nil, err
	}

	outcome := dispatcher.Outcome{
		Status:        result.Status,
		CurrentNodeID: lastNode(result.NodeResults),
		Context:       result.Context,
		ErrorNodeID:   result.ErrorNodeID,
	}

	if result.Error != "" {
		outcome.Err = models.NewNodeError(result.ErrorNodeID, models.ErrNodeExecution, result.Error)
	}

	_, err = s.finish(ctx, execution.ID, outcome)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Cancel stops an execution. Pending and paused executions are cancelled at once. A running
// execution is flagged and becomes cancelled when its worker reaches the next node boundary;
// the returned copy then has CancelRequested set.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock := s.locks.lock(executionID)
	defer unlock()

	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !execution.Status.Cancellable() {
		return nil, models.NewStateError("cancel", executionID, execution.Status)
	}

	if execution.Status == models.ExecutionStatusRunning {
		s.requestCancel(executionID)

		execution.CancelRequested = true

		err = s.executions.Save(ctx, execution)
		if err != nil {
			return nil, fmt.Errorf("failed to flag cancellation: %w", err)
		}

		s.logger.InfoContext(ctx, "cancellation requested", "execution_id", executionID)

		return execution.Clone(), nil
	}

	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = s.now()
	execution.Resume = nil
	execution.ClearWait()

	err = s.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	s.release(ctx, execution)
	s.metrics.executionFinished(execution.Status)

	s.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, executionID),
		NodeID:    execution.CurrentNodeID,
	})

	s.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID)

	return execution.Clone(), nil
}

// Resume wakes a paused execution with the event it waits for. The payload becomes the
// wait node's context entry and the execution is queued again.
func (s *Scheduler) Resume(ctx context.Context, executionID, eventType string, payload map[string]any) (*models.Execution, error) {
	unlock := s.locks.lock(executionID)
	defer unlock()

	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return nil, models.NewStateError("resume", executionID, execution.Status)
	}

	if eventType != execution.WaitEventType {
		stateErr := models.NewStateError("resume", executionID, execution.Status)
		stateErr.Message = fmt.Sprintf("waiting for %q, got %q", execution.WaitEventType, eventType)

		return nil, stateErr
	}

	if payload == nil {
		payload = map[string]any{}
	}

	return s.wake(ctx, execution, &models.ResumeSignal{EventType: eventType, Payload: maps.Clone(payload)})
}

// Tick resumes every paused execution whose deadline has passed with a timeout signal.
// It returns how many were resumed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.clock.Now()

	due, err := s.waits.Due(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due waits: %w", err)
	}

	resumed := 0

	for _, entry := range due {
		ok, err := s.timeout(ctx, entry.ExecutionID, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to time out execution", "execution_id", entry.ExecutionID, "error", err)

			continue
		}

		if ok {
			resumed++
		}
	}

	return resumed, nil
}

func (s *Scheduler) timeout(ctx context.Context, executionID string, now time.Time) (bool, error) {
	unlock := s.locks.lock(executionID)
	defer unlock()

	execution, err := s.executions.GetByID(ctx, executionID)
	if persistence.IsExecutionNotFound(err) {
		return false, s.waits.Remove(ctx, executionID)
	}

	if err != nil {
		return false, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return false, s.waits.Remove(ctx, executionID)
	}

	if execution.ResumeAt == nil || execution.ResumeAt.After(now) {
		return false, nil
	}

	_, err = s.wake(ctx, execution, &models.ResumeSignal{EventType: execution.WaitEventType, TimedOut: true})

	return err == nil, err
}

// wake moves a paused execution back to running with signal and queues it. Callers hold
// the execution lock.
func (s *Scheduler) wake(ctx context.Context, execution *models.Execution, signal *models.ResumeSignal) (*models.Execution, error) {
	execution.Status = models.ExecutionStatusRunning
	execution.Resume = signal

	if !signal.TimedOut {
		if execution.Context == nil {
			execution.Context = map[string]any{}
		}

		execution.Context[execution.CurrentNodeID] = maps.Clone(signal.Payload)
	}

	execution.ClearWait()

	err := s.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to resume execution: %w", err)
	}

	err = s.waits.Remove(ctx, execution.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to drop wait index entry", "execution_id", execution.ID, "error", err)
	}

	s.publish(ctx, execution.ID, events.ExecutionResumed{
		BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID, execution.ID),
		NodeID:    execution.CurrentNodeID,
		EventType: signal.EventType,
		TimedOut:  signal.TimedOut,
	})

	s.logger.InfoContext(ctx, "execution resumed",
		"execution_id", execution.ID,
		"node_id", execution.CurrentNodeID,
		"timed_out", signal.TimedOut,
	)

	s.pool.enqueue(execution.ID)

	return execution.Clone(), nil
}

// Get returns an execution and its steps ordered by executed_at.
func (s *Scheduler) Get(ctx context.Context, executionID string) (*models.Execution, []*models.ExecutionStep, error) {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	steps, err := s.steps.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return execution, steps, nil
}

// List returns a workflow's executions, newest first. An empty status lists all.
func (s *Scheduler) List(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.Execution, error) {
	return s.executions.ListByWorkflow(ctx, workflowID, status)
}

// Recover requeues executions left pending or running by a previous process and rebuilds
// the wait index from paused ones. Call it before StartWorkers.
func (s *Scheduler) Recover(ctx context.Context) error {
	paused, err := s.executions.ListByStatus(ctx, models.ExecutionStatusPaused)
	if err != nil {
		return fmt.Errorf("failed to list paused executions: %w", err)
	}

	for _, execution := range paused {
		err := s.waits.Add(ctx, waitEntry(execution))
		if err != nil {
			return fmt.Errorf("failed to index paused execution %s: %w", execution.ID, err)
		}
	}

	ready, err := s.executions.ListByStatus(ctx, models.ExecutionStatusPending, models.ExecutionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list unfinished executions: %w", err)
	}

	for _, execution := range ready {
		if execution.CancelRequested {
			s.requestCancel(execution.ID)
		}

		s.pool.enqueue(execution.ID)
	}

	s.logger.InfoContext(ctx, "recovered executions", "paused", len(paused), "requeued", len(ready))

	return nil
}

// StartWorkers launches the worker pool. It returns immediately.
func (s *Scheduler) StartWorkers(ctx context.Context) error {
	return s.pool.start(ctx)
}

// Stop waits for in-flight nodes to finish. When ctx expires first, running executions are
// interrupted and left for Recover.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.pool.stop(ctx)
}

func (s *Scheduler) newExecution(workflowID string, triggerData map[string]any, dryRun bool) *models.Execution {
	trigger := maps.Clone(triggerData)
	if trigger == nil {
		trigger = map[string]any{}
	}

	return &models.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      models.ExecutionStatusPending,
		Context:     map[string]any{},
		TriggerData: trigger,
		IsDryRun:    dryRun,
		CreatedAt:   s.clock.Now().UTC(),
	}
}

func (s *Scheduler) now() *time.Time {
	now := s.clock.Now().UTC()

	return &now
}

func (s *Scheduler) requestCancel(executionID string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	s.cancels[executionID] = struct{}{}
}

func (s *Scheduler) cancelRequested(executionID string) bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	_, ok := s.cancels[executionID]

	return ok
}

func (s *Scheduler) clearCancel(executionID string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	delete(s.cancels, executionID)
}

// release drops per-execution state once an execution is terminal.
func (s *Scheduler) release(ctx context.Context, execution *models.Execution) {
	s.clearCancel(execution.ID)
	s.recorder.Forget(execution.ID)

	err := s.waits.Remove(ctx, execution.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to drop wait index entry", "execution_id", execution.ID, "error", err)
	}
}

func (s *Scheduler) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, key, event)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (s *Scheduler) onStep(ctx context.Context, step *models.ExecutionStep) {
	s.metrics.stepRecorded(step)

	s.publish(ctx, step.ExecutionID, events.StepRecorded{
		BaseEvent: events.NewBaseEvent(events.StepRecordedEvent, "", step.ExecutionID),
		Step:      *step,
	})
}

func waitEntry(execution *models.Execution) waitresume.Entry {
	return waitresume.Entry{
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		NodeID:         execution.CurrentNodeID,
		EventType:      execution.WaitEventType,
		CorrelationKey: execution.CorrelationKey,
		ResumeAt:       execution.ResumeAt,
	}
}

func lastNode(steps []*models.ExecutionStep) string {
	if len(steps) == 0 {
		return ""
	}

	return steps[len(steps)-1].NodeID
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock serializes callers per key. Entries are dropped when no one holds or waits for them.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}

	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}

	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--

		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
