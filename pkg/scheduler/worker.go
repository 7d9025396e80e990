package scheduler

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/dukex/flowengine/pkg/dispatcher"
	"github.com/dukex/flowengine/pkg/eventbus"
	"github.com/dukex/flowengine/pkg/events"
	"github.com/dukex/flowengine/pkg/models"
)

// pool hands queued executions to a fixed set of workers. An execution is processed by at
// most one worker at a time; a request that arrives while it is claimed runs afterwards.
type pool struct {
	scheduler *Scheduler
	size      int
	queue     chan string
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
	rerun    map[string]struct{}
}

func newPool(s *Scheduler, size, queueSize int) *pool {
	if size < 1 {
		size = 1
	}

	return &pool{
		scheduler: s,
		size:      size,
		queue:     make(chan string, queueSize),
		stopCh:    make(chan struct{}),
		active:    make(map[string]context.CancelFunc),
		rerun:     make(map[string]struct{}),
	}
}

func (p *pool) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true

	p.scheduler.logger.InfoContext(ctx, "worker pool starting", "workers", p.size)

	for range p.size {
		p.wg.Add(1)

		go p.loop()
	}

	return nil
}

func (p *pool) stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()

		return nil
	}

	p.running = false
	p.mu.Unlock()

	p.scheduler.logger.InfoContext(ctx, "worker pool stopping")

	close(p.stopCh)

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.scheduler.logger.InfoContext(ctx, "worker pool stopped gracefully")
	case <-ctx.Done():
		p.scheduler.logger.WarnContext(ctx, "worker pool shutdown timed out, interrupting executions")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

func (p *pool) enqueue(executionID string) {
	select {
	case p.queue <- executionID:
	default:
		go func() {
			select {
			case p.queue <- executionID:
			case <-p.stopCh:
			}
		}()
	}
}

func (p *pool) loop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case executionID := <-p.queue:
			ctx, cancel := context.WithCancel(context.Background())

			if !p.claim(executionID, cancel) {
				cancel()

				continue
			}

			p.scheduler.metrics.workerBusy()
			p.scheduler.process(ctx, executionID)
			p.scheduler.metrics.workerIdle()

			cancel()
			p.release(executionID)
		}
	}
}

func (p *pool) claim(executionID string, cancel context.CancelFunc) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	if _, busy := p.active[executionID]; busy {
		p.rerun[executionID] = struct{}{}

		return false
	}

	p.active[executionID] = cancel

	return true
}

func (p *pool) release(executionID string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	delete(p.active, executionID)

	if _, again := p.rerun[executionID]; again {
		delete(p.rerun, executionID)
		p.enqueue(executionID)
	}
}

func (p *pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	for _, cancel := range p.active {
		cancel()
	}
}

// process runs one claimed execution until it stops at a terminal status, a wait, or an
// interruption.
func (s *Scheduler) process(ctx context.Context, executionID string) {
	execution, run, ok := s.prepare(ctx, executionID)
	if !ok {
		return
	}

	logger := s.logger.With("execution_id", executionID, "workflow_id", execution.WorkflowID)

	if execution.IsDryRun {
		_, err := s.runSandbox(ctx, execution, run.Workflow, nil)
		if err != nil {
			logger.ErrorContext(ctx, "dry run failed", "error", err)
		}

		return
	}

	outcome, err := s.dispatcher.Dispatch(ctx, run)
	if err != nil {
		if errors.Is(err, dispatcher.ErrInterrupted) {
			logger.WarnContext(ctx, "execution interrupted, left running for recovery", "node_id", outcome.CurrentNodeID)

			return
		}

		logger.ErrorContext(ctx, "execution aborted", "node_id", outcome.CurrentNodeID, "error", err)

		outcome.Status = models.ExecutionStatusFailed
		outcome.Err = err
		outcome.ErrorNodeID = outcome.CurrentNodeID
	}

	_, err = s.finish(ctx, executionID, outcome)
	if err != nil {
		logger.ErrorContext(ctx, "failed to persist execution outcome", "status", outcome.Status, "error", err)
	}
}

// prepare moves a claimed execution to running and works out where the walk resumes.
func (s *Scheduler) prepare(ctx context.Context, executionID string) (*models.Execution, dispatcher.Run, bool) {
	unlock := s.locks.lock(executionID)
	defer unlock()

	logger := s.logger.With("execution_id", executionID)

	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load queued execution", "error", err)

		return nil, dispatcher.Run{}, false
	}

	fresh := false

	switch execution.Status {
	case models.ExecutionStatusPending:
		fresh = true
		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = s.now()
	case models.ExecutionStatusRunning:
	default:
		return nil, dispatcher.Run{}, false
	}

	if execution.CancelRequested || s.cancelRequested(executionID) {
		s.finishLocked(ctx, execution, dispatcher.Outcome{Status: models.ExecutionStatusCancelled, CurrentNodeID: execution.CurrentNodeID})

		return nil, dispatcher.Run{}, false
	}

	wf, err := s.workflows.Get(ctx, execution.WorkflowID)
	if err != nil {
		s.finishLocked(ctx, execution, dispatcher.Outcome{
			Status:        models.ExecutionStatusFailed,
			CurrentNodeID: execution.CurrentNodeID,
			Err:           err,
		})

		return nil, dispatcher.Run{}, false
	}

	run := dispatcher.Run{
		ExecutionID: execution.ID,
		Workflow:    wf,
		TriggerData: execution.TriggerData,
		DryRun:      execution.IsDryRun,
		Cancelled:   func() bool { return s.cancelRequested(executionID) },
		Checkpoint:  s.checkpoint(executionID),
	}

	if !fresh && !execution.IsDryRun {
		err := s.position(ctx, execution, wf, &run)
		if err != nil {
			logger.ErrorContext(ctx, "failed to rebuild execution context", "error", err)

			return nil, dispatcher.Run{}, false
		}
	}

	err = s.executions.Save(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark execution running", "error", err)

		return nil, dispatcher.Run{}, false
	}

	if fresh {
		s.metrics.executionStarted()

		s.publish(ctx, executionID, events.ExecutionStarted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID, executionID),
			TriggerData: execution.TriggerData,
			DryRun:      execution.IsDryRun,
		})
	}

	return execution.Clone(), run, true
}

// position rebuilds the context from the step trail and picks the node to continue from.
func (s *Scheduler) position(ctx context.Context, execution *models.Execution, wf *models.Workflow, run *dispatcher.Run) error {
	steps, err := s.steps.ListByExecution(ctx, execution.ID)
	if err != nil {
		return err
	}

	triggerID := ""
	if trigger := wf.TriggerNode(); trigger != nil {
		triggerID = trigger.ID
	}

	run.Context = models.RebuildContext(triggerID, execution.TriggerData, steps)

	switch {
	case execution.Resume != nil:
		run.StartAt = execution.CurrentNodeID
		run.Resume = execution.Resume

		if !execution.Resume.TimedOut {
			run.Context[execution.CurrentNodeID] = maps.Clone(execution.Resume.Payload)
		}
	case execution.NextNodeID != "":
		run.StartAt = execution.NextNodeID
	default:
		run.StartAt = execution.CurrentNodeID
	}

	return nil
}

func (s *Scheduler) checkpoint(executionID string) func(ctx context.Context, cp dispatcher.Checkpoint) error {
	return func(ctx context.Context, cp dispatcher.Checkpoint) error {
		unlock := s.locks.lock(executionID)
		defer unlock()

		execution, err := s.executions.GetByID(ctx, executionID)
		if err != nil {
			return err
		}

		if execution.CancelRequested {
			s.requestCancel(executionID)
		}

		execution.CurrentNodeID = cp.CurrentNodeID
		execution.NextNodeID = cp.NextNodeID
		execution.Context = cp.Context
		execution.Resume = nil

		return s.executions.Save(ctx, execution)
	}
}

// finish records where a walk stopped.
func (s *Scheduler) finish(ctx context.Context, executionID string, outcome dispatcher.Outcome) (*models.Execution, error) {
	unlock := s.locks.lock(executionID)
	defer unlock()

	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	err = s.finishLocked(ctx, execution, outcome)
	if err != nil {
		return nil, err
	}

	return execution.Clone(), nil
}

// finishLocked applies outcome to execution. A pending cancel request wins over whatever
// the last node produced, since no further node may run.
func (s *Scheduler) finishLocked(ctx context.Context, execution *models.Execution, outcome dispatcher.Outcome) error {
	if outcome.Context != nil {
		execution.Context = outcome.Context
	}

	if outcome.CurrentNodeID != "" {
		execution.CurrentNodeID = outcome.CurrentNodeID
	}

	execution.NextNodeID = ""
	execution.Resume = nil

	status := outcome.Status
	if execution.CancelRequested || s.cancelRequested(execution.ID) {
		status = models.ExecutionStatusCancelled
	}

	execution.Status = status

	var event eventbus.Event

	switch status {
	case models.ExecutionStatusPaused:
		execution.WaitEventType = outcome.Wait.EventType
		execution.ResumeAt = outcome.Wait.ResumeAt
		execution.CorrelationKey = outcome.Wait.CorrelationKey

		event = events.ExecutionPaused{
			BaseEvent:      events.NewBaseEvent(events.ExecutionPausedEvent, execution.WorkflowID, execution.ID),
			NodeID:         execution.CurrentNodeID,
			WaitEventType:  execution.WaitEventType,
			CorrelationKey: execution.CorrelationKey,
			ResumeAt:       execution.ResumeAt,
		}
	case models.ExecutionStatusCompleted:
		execution.CompletedAt = s.now()

		completed := events.ExecutionCompleted{
			BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID, execution.ID),
		}

		if execution.StartedAt != nil {
			completed.Duration = execution.CompletedAt.Sub(*execution.StartedAt)
		}

		event = completed
	case models.ExecutionStatusFailed:
		execution.CompletedAt = s.now()
		execution.ErrorNodeID = outcome.ErrorNodeID

		if outcome.Err != nil {
			execution.Error = models.ErrorMessage(outcome.Err)
		}

		event = events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID, execution.ID),
			NodeID:    execution.ErrorNodeID,
			Error:     execution.Error,
		}
	case models.ExecutionStatusCancelled:
		execution.CompletedAt = s.now()
		execution.ClearWait()

		event = events.ExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID, execution.ID),
			NodeID:    execution.CurrentNodeID,
		}
	}

	err := s.executions.Save(ctx, execution)
	if err != nil {
		return err
	}

	if status == models.ExecutionStatusPaused {
		err = s.waits.Add(ctx, waitEntry(execution))
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to index paused execution", "execution_id", execution.ID, "error", err)
		}
	}

	if status.Terminal() {
		s.release(ctx, execution)
		s.metrics.executionFinished(status)
	}

	s.logger.InfoContext(ctx, "execution stopped",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"status", status,
		"node_id", execution.CurrentNodeID,
	)

	if event != nil {
		s.publish(ctx, execution.ID, event)
	}

	return nil
}
