package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strikepipe/strikepipe/internal/activity"
	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/orchestrator"
	"github.com/strikepipe/strikepipe/internal/retry"
)

// Sentinel errors returned by bridge operations.
var (
	// ErrRunNotFound is returned when the run identifier is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive is returned when starting a run whose identifier is
	// already active.
	ErrRunActive = errors.New("run is already active")

	// ErrRunClosed is returned when an operation requires a live run but
	// the run has already reached a terminal status.
	ErrRunClosed = errors.New("run is already closed")
)

// DefaultTaskQueue is the logical queue name stamped on runs when no queue
// is configured.
const DefaultTaskQueue = "security-assessment"

// Bridge is the control plane for pipeline runs. It starts orchestrator
// instances in background goroutines, tracks them while they are live, and
// persists their lifecycle to the run database.
type Bridge struct {
	db        *database.RunDB
	executor  agent.Executor
	logger    *slog.Logger
	query     *orchestrator.QueryService
	taskQueue string
	now       func() time.Time

	mu     sync.RWMutex
	active map[string]*runHandle
}

// runHandle tracks one live run.
type runHandle struct {
	orch *orchestrator.Orchestrator
	done chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger for the bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithExecutor sets the agent executor used for new runs.
func WithExecutor(executor agent.Executor) Option {
	return func(b *Bridge) {
		b.executor = executor
	}
}

// WithTaskQueue sets the logical queue name stamped on new runs.
func WithTaskQueue(queue string) Option {
	return func(b *Bridge) {
		if queue != "" {
			b.taskQueue = queue
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a Bridge over the given run database.
func New(db *database.RunDB, opts ...Option) *Bridge {
	b := &Bridge{
		db:        db,
		taskQueue: DefaultTaskQueue,
		now:       time.Now,
		active:    make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.executor == nil {
		b.executor = agent.NewSimulatedExecutor()
	}
	b.query = orchestrator.NewQueryService(orchestrator.WithQueryClock(b.now))
	return b
}

// Start accepts a submission and begins executing it in the background. It
// returns the run identifier: the caller-supplied one when present,
// otherwise a generated UUID. Starting a run whose identifier is already
// active fails with ErrRunActive; reusing the identifier of a finished run
// fails with ErrRunClosed.
func (b *Bridge) Start(ctx context.Context, input model.PipelineInput) (string, error) {
	if input.WebURL == "" {
		return "", model.NewClassifiedError(model.ErrKindInvalidRequest, "webUrl is required")
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	input.RunID = runID

	b.mu.RLock()
	_, exists := b.active[runID]
	b.mu.RUnlock()
	if exists {
		return "", fmt.Errorf("%w: %s", ErrRunActive, runID)
	}

	start := b.now()
	orch := b.newOrchestrator(runID, input, nil, start)

	record := &database.RunRecord{
		RunID:       runID,
		SecondaryID: input.ScanID,
		Status:      model.WorkflowRunning,
		TaskQueue:   b.taskQueue,
		StartTime:   start,
		Input:       input,
		State:       orch.Snapshot(),
	}
	if err := b.db.InsertRun(ctx, record); err != nil {
		if errors.Is(err, database.ErrDuplicateRun) {
			return "", b.duplicateRunError(ctx, runID)
		}
		return "", fmt.Errorf("failed to persist run: %w", err)
	}

	b.launch(orch)
	return runID, nil
}

// Resume restarts a run that was left open by a crashed process. Completed
// agents are replayed from the event log so finished work is not
// re-executed.
func (b *Bridge) Resume(ctx context.Context, runID string) error {
	b.mu.RLock()
	_, exists := b.active[runID]
	b.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}

	record, err := b.db.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if record.Status != model.WorkflowRunning {
		return fmt.Errorf("%w: %s is %s", ErrRunClosed, runID, record.Status)
	}

	events, err := b.db.ListRunEvents(ctx, runID)
	if err != nil {
		return err
	}
	replay := replayFromEvents(events)

	b.logger.Info("resuming run",
		"runId", runID,
		"replayedAgents", len(replay),
	)
	orch := b.newOrchestrator(runID, record.Input, replay, record.StartTime)
	b.launch(orch)
	return nil
}

// QueryProgress returns the current progress projection for a run. Live runs
// are answered from a fresh state snapshot; finished runs from the persisted
// one. Unknown runs fail with ErrRunNotFound.
func (b *Bridge) QueryProgress(ctx context.Context, runID string) (model.PipelineProgress, error) {
	b.mu.RLock()
	handle, ok := b.active[runID]
	b.mu.RUnlock()
	if ok {
		return b.query.Query(handle.orch), nil
	}

	record, err := b.db.GetRun(ctx, runID)
	if err != nil {
		return model.PipelineProgress{}, err
	}
	if record == nil {
		return model.PipelineProgress{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return b.query.Project(runID, record.State), nil
}

// Cancel requests cancellation: in-flight work is signalled through its
// context and the run stops at its next phase boundary. It fails with
// ErrRunClosed when the run already finished and ErrRunNotFound when it
// never existed.
func (b *Bridge) Cancel(ctx context.Context, runID string) error {
	handle, err := b.liveHandle(ctx, runID)
	if err != nil {
		return err
	}
	handle.orch.RequestCancel("cancellation requested")
	return nil
}

// Terminate force-stops a run, cancelling in-flight phase work. The reason
// is recorded in the run's terminal error.
func (b *Bridge) Terminate(ctx context.Context, runID, reason string) error {
	handle, err := b.liveHandle(ctx, runID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "terminated by operator"
	}
	handle.orch.Terminate(reason)
	return nil
}

// List returns a bounded, newest-first list of run summaries, optionally
// filtered by status. A limit below 1 defaults to 10.
func (b *Bridge) List(ctx context.Context, statusFilter model.WorkflowStatus, limit int) ([]model.WorkflowInfo, error) {
	if statusFilter != "" && !model.ValidWorkflowStatus(statusFilter) {
		return nil, model.NewClassifiedError(model.ErrKindInvalidRequest, "unknown status filter %q", statusFilter)
	}

	records, err := b.db.ListRuns(ctx, statusFilter, limit)
	if err != nil {
		return nil, err
	}

	infos := make([]model.WorkflowInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, model.WorkflowInfo{
			RunID:         record.RunID,
			SecondaryID:   record.SecondaryID,
			Status:        record.Status,
			StartTime:     record.StartTime,
			CloseTime:     record.CloseTime,
			TaskQueueName: record.TaskQueue,
		})
	}
	return infos, nil
}

// Wait blocks until the run finishes or ctx is done, then returns the final
// progress projection. Waiting on a run that already finished returns its
// stored projection immediately.
func (b *Bridge) Wait(ctx context.Context, runID string) (model.PipelineProgress, error) {
	b.mu.RLock()
	handle, ok := b.active[runID]
	b.mu.RUnlock()

	if ok {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return model.PipelineProgress{}, ctx.Err()
		}
	}
	return b.QueryProgress(ctx, runID)
}

// ActiveRuns returns the identifiers of runs currently executing in this
// process.
func (b *Bridge) ActiveRuns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	return ids
}

// newOrchestrator builds the per-run orchestrator with the retry profile
// selected from the submission.
func (b *Bridge) newOrchestrator(runID string, input model.PipelineInput, replay []orchestrator.ReplayedAgent, start time.Time) *orchestrator.Orchestrator {
	profile := retry.ForInput(input)
	gateway := activity.New(profile, b.executor, activity.WithLogger(b.logger))

	opts := []orchestrator.Option{
		orchestrator.WithLogger(b.logger),
		orchestrator.WithRecorder(b.db),
		orchestrator.WithClock(b.now),
		orchestrator.WithStartTime(start),
	}
	if len(replay) > 0 {
		opts = append(opts, orchestrator.WithReplay(replay))
	}
	return orchestrator.New(runID, input, gateway, opts...)
}

// launch registers the run as active and drives it in the background.
func (b *Bridge) launch(orch *orchestrator.Orchestrator) {
	handle := &runHandle{orch: orch, done: make(chan struct{})}

	b.mu.Lock()
	b.active[orch.RunID()] = handle
	b.mu.Unlock()

	go b.drive(handle)
}

// drive runs the orchestrator to completion and finalizes the stored record.
// The background context is deliberate: a run outlives the API call that
// started it.
func (b *Bridge) drive(handle *runHandle) {
	defer close(handle.done)

	runID := handle.orch.RunID()
	runErr := handle.orch.Run(context.Background())

	status := model.WorkflowCompleted
	if runErr != nil {
		status = closeStatus(handle.orch)
	}
	closeTime := b.now()
	snapshot := handle.orch.Snapshot()

	if err := b.db.UpdateRun(context.Background(), runID, status, &closeTime, snapshot); err != nil {
		b.logger.Error("failed to finalize run record",
			"runId", runID,
			"status", status,
			"error", err,
		)
	}

	b.mu.Lock()
	delete(b.active, runID)
	b.mu.Unlock()
}

// duplicateRunError distinguishes reuse of a finished run's identifier from
// a race with an active one when the insert hits the uniqueness constraint.
func (b *Bridge) duplicateRunError(ctx context.Context, runID string) error {
	record, err := b.db.GetRun(ctx, runID)
	if err == nil && record != nil && record.Status != model.WorkflowRunning {
		return fmt.Errorf("%w: %s is %s", ErrRunClosed, runID, record.Status)
	}
	return fmt.Errorf("%w: %s", ErrRunActive, runID)
}

// liveHandle resolves the handle of an active run, distinguishing finished
// runs from unknown ones.
func (b *Bridge) liveHandle(ctx context.Context, runID string) (*runHandle, error) {
	b.mu.RLock()
	handle, ok := b.active[runID]
	b.mu.RUnlock()
	if ok {
		return handle, nil
	}

	record, err := b.db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil, fmt.Errorf("%w: %s is %s", ErrRunClosed, runID, record.Status)
}

// closeStatus maps a failed run onto its externally visible status.
func closeStatus(orch *orchestrator.Orchestrator) model.WorkflowStatus {
	switch {
	case orch.Terminated():
		return model.WorkflowTerminated
	case orch.CancelRequested():
		return model.WorkflowCancelled
	default:
		return model.WorkflowFailed
	}
}

// replayFromEvents converts the durable event log into replay entries,
// keeping the latest record per agent.
func replayFromEvents(events []database.RunEvent) []orchestrator.ReplayedAgent {
	latest := make(map[string]int, len(events))
	replay := make([]orchestrator.ReplayedAgent, 0, len(events))
	for _, event := range events {
		entry := orchestrator.ReplayedAgent{
			Name:     event.AgentName,
			Metrics:  event.Metrics,
			Evidence: event.Evidence,
		}
		if i, ok := latest[event.AgentName]; ok {
			replay[i] = entry
			continue
		}
		latest[event.AgentName] = len(replay)
		replay = append(replay, entry)
	}
	return replay
}
