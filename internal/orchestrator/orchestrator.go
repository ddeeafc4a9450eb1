package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strikepipe/strikepipe/internal/activity"
	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/report"
)

// Recorder persists durable run events as they happen. The orchestrator
// records each agent completion so a crashed run can be resumed without
// re-executing finished work.
type Recorder interface {
	// AgentCompleted appends one completed-agent event for the run.
	AgentCompleted(runID, agentName string, metrics model.AgentMetrics, evidence string) error
}

// ReplayedAgent is one completion recovered from the event log, used to
// preload an orchestrator when resuming a run.
type ReplayedAgent struct {
	// Name is the agent name exactly as it was recorded.
	Name string

	// Metrics are the recorded metrics of the completed agent.
	Metrics model.AgentMetrics

	// Evidence is the recorded evidence text, possibly empty.
	Evidence string
}

// Orchestrator drives one pipeline run through its phases. It exclusively
// owns the run's PipelineState; all mutations happen under the instance
// mutex so snapshots are always consistent.
type Orchestrator struct {
	runID    string
	input    model.PipelineInput
	gateway  *activity.Gateway
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	// replay holds preloaded completions applied at construction time.
	replay    []ReplayedAgent
	startTime time.Time

	mu         sync.RWMutex
	state      *model.PipelineState
	evidence   map[string]string
	failedLane string

	// cancelRequested marks a pending stop: the run context is cancelled so
	// in-flight work sees the signal, and the run fails at the next phase
	// boundary. terminated upgrades the close to a forced termination.
	cancelRequested bool
	terminated      bool
	cancelCause     string
	cancelRun       context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger for the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRecorder sets the durable event recorder.
func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithReplay preloads completions recovered from the event log. Phases whose
// agents are all preloaded are skipped when the run executes.
func WithReplay(agents []ReplayedAgent) Option {
	return func(o *Orchestrator) {
		o.replay = agents
	}
}

// WithStartTime overrides the recorded start time. Used on resume so elapsed
// time and the final summary still measure from the original submission.
func WithStartTime(start time.Time) Option {
	return func(o *Orchestrator) {
		o.startTime = start
	}
}

// New creates an Orchestrator for one run. The run does not execute until
// Run is called.
func New(runID string, input model.PipelineInput, gateway *activity.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runID:    runID,
		input:    input,
		gateway:  gateway,
		now:      time.Now,
		evidence: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.startTime.IsZero() {
		o.startTime = o.now()
	}

	o.state = model.NewPipelineState(o.startTime)
	for _, replayed := range o.replay {
		o.state.CompletedAgents = append(o.state.CompletedAgents, replayed.Name)
		o.state.AgentMetrics[replayed.Name] = replayed.Metrics
		if replayed.Evidence != "" {
			o.evidence[replayed.Name] = replayed.Evidence
		}
	}
	return o
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Input returns the immutable submission the run was started with.
func (o *Orchestrator) Input() model.PipelineInput {
	return o.input
}

// Run executes the pipeline to a terminal state. It returns nil when every
// phase completed, or the error that failed the run. Run must be called at
// most once per Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()

	o.logger.Info("pipeline run starting",
		"runId", o.runID,
		"webUrl", o.input.WebURL,
		"testingMode", o.input.TestingMode,
	)

	if err := o.drive(runCtx); err != nil {
		o.fail(err)
		return err
	}
	o.complete()
	return nil
}

// drive walks the phases in order. Reconnaissance phases are strictly
// sequential; the analysis and exploitation phases fan out into one lane per
// vulnerability class and rejoin before the next phase starts.
func (o *Orchestrator) drive(ctx context.Context) error {
	if err := o.sequential(ctx, PhasePreRecon, PhasePreRecon); err != nil {
		return err
	}
	if err := o.sequential(ctx, PhaseRecon, PhaseRecon); err != nil {
		return err
	}
	if err := o.parallel(ctx, PhaseVulnerabilityAnalysis, AnalysisLanes()); err != nil {
		return err
	}
	if err := o.parallel(ctx, PhaseExploitation, ExploitationLanes()); err != nil {
		return err
	}
	return o.reporting(ctx)
}

// sequential runs a single-agent phase.
func (o *Orchestrator) sequential(ctx context.Context, phase, agentName string) error {
	if err := o.checkCancelled(); err != nil {
		return err
	}
	if o.alreadyCompleted(agentName) {
		o.logger.Info("skipping completed phase", "runId", o.runID, "phase", phase)
		return nil
	}

	o.enterPhase(phase, agentName)
	result, err := o.gateway.Execute(ctx, agent.Request{
		RunID: o.runID,
		Phase: phase,
		Agent: agentName,
		Input: o.input,
	})
	if err != nil {
		return err
	}
	o.recordCompletion(agentName, result)
	return nil
}

// parallel runs one lane per vulnerability class and waits for all of them.
// The first lane error cancels the sibling lanes through the shared group
// context; the phase fails with that first error.
func (o *Orchestrator) parallel(ctx context.Context, phase string, lanes []string) error {
	if err := o.checkCancelled(); err != nil {
		return err
	}
	o.enterPhase(phase, phase)

	g, laneCtx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		if o.alreadyCompleted(lane) {
			o.logger.Info("skipping completed lane", "runId", o.runID, "phase", phase, "lane", lane)
			continue
		}
		g.Go(func() error {
			result, err := o.gateway.Execute(laneCtx, agent.Request{
				RunID: o.runID,
				Phase: phase,
				Agent: lane,
				Input: o.input,
			})
			if err != nil {
				o.noteLaneFailure(lane)
				return err
			}
			o.recordCompletion(lane, result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// The fan-in barrier is also a cancellation boundary.
	return o.checkCancelled()
}

// reporting assembles the draft report deterministically, then hands it to
// the reporting agent for narrative synthesis.
func (o *Orchestrator) reporting(ctx context.Context) error {
	if err := o.checkCancelled(); err != nil {
		return err
	}
	if o.alreadyCompleted(AgentReport) {
		o.logger.Info("skipping completed phase", "runId", o.runID, "phase", PhaseReporting)
		return nil
	}

	o.enterPhase(PhaseReporting, AgentReport)
	result, err := o.gateway.Execute(ctx, agent.Request{
		RunID: o.runID,
		Phase: PhaseReporting,
		Agent: AgentReport,
		Input: o.input,
		Draft: o.buildDraft(),
	})
	if err != nil {
		return err
	}
	o.recordCompletion(AgentReport, result)
	return nil
}

// buildDraft concatenates exploitation evidence in lane declaration order so
// the draft is identical for identical run states.
func (o *Orchestrator) buildDraft() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	lanes := ExploitationLanes()
	sections := make([]report.DraftSection, 0, len(lanes))
	for _, lane := range lanes {
		sections = append(sections, report.DraftSection{
			Agent:    lane,
			Evidence: o.evidence[lane],
		})
	}
	return report.BuildDraft(o.input, sections)
}

// Snapshot returns a consistent deep copy of the run state.
func (o *Orchestrator) Snapshot() model.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// Evidence returns the evidence recorded for the named agent, if any.
func (o *Orchestrator) Evidence(agentName string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	evidence, ok := o.evidence[agentName]
	return evidence, ok
}

// RequestCancel asks the run to stop: in-flight activities receive the
// cancellation through their contexts and the run fails at the next phase
// boundary. Activities that ignore the signal are allowed to finish and
// their results are kept. Calling RequestCancel after the run reached a
// terminal state has no effect.
func (o *Orchestrator) RequestCancel(reason string) {
	o.markCancelled(reason, false)
}

// Terminate stops the run like RequestCancel, but records the close as a
// forced termination so callers can tell the two apart.
func (o *Orchestrator) Terminate(reason string) {
	o.markCancelled(reason, true)
}

// CancelRequested reports whether a cancel or terminate was requested.
func (o *Orchestrator) CancelRequested() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cancelRequested
}

// Terminated reports whether the run was forcefully terminated.
func (o *Orchestrator) Terminated() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.terminated
}

// markCancelled records the cancellation request and cancels the run context
// so blocked attempts and backoff sleeps return promptly instead of waiting
// out their retry budget.
func (o *Orchestrator) markCancelled(reason string, force bool) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	if reason == "" {
		reason = "cancellation requested"
	}
	if !o.cancelRequested {
		o.cancelRequested = true
		o.cancelCause = reason
	}
	if force {
		o.terminated = true
		o.cancelCause = reason
	}
	cancel := o.cancelRun
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.logger.Info("cancellation requested",
		"runId", o.runID,
		"reason", reason,
		"forced", force,
	)
}

// checkCancelled is called at every phase boundary. It turns a pending
// cancellation request into the run-failing error.
func (o *Orchestrator) checkCancelled() error {
	o.mu.RLock()
	requested := o.cancelRequested
	terminated := o.terminated
	cause := o.cancelCause
	o.mu.RUnlock()

	if !requested {
		return nil
	}
	kind := model.ErrKindCancelled
	if terminated {
		kind = model.ErrKindTerminated
	}
	return model.NewClassifiedError(kind, "%s", cause)
}

// alreadyCompleted reports whether the agent finished in this run or was
// preloaded from the event log.
func (o *Orchestrator) alreadyCompleted(agentName string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.state.AgentMetrics[agentName]
	return ok
}

// enterPhase atomically updates the current phase marker. For parallel
// phases the agent marker is the phase name itself.
func (o *Orchestrator) enterPhase(phase, agentName string) {
	o.mu.Lock()
	if !o.state.Terminal() {
		o.state.CurrentPhase = phase
		o.state.CurrentAgent = agentName
	}
	o.mu.Unlock()

	o.logger.Info("entering phase", "runId", o.runID, "phase", phase)
}

// recordCompletion appends the agent to the completion list, stores its
// metrics and evidence, and writes the durable event. A failed event write
// is logged but does not fail the run; losing one replay event only costs
// re-executing that agent after a crash.
func (o *Orchestrator) recordCompletion(agentName string, result *agent.Result) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state.CompletedAgents = append(o.state.CompletedAgents, agentName)
	o.state.AgentMetrics[agentName] = result.Metrics
	if result.Evidence != "" {
		o.evidence[agentName] = result.Evidence
	}
	o.mu.Unlock()

	if o.recorder != nil {
		if err := o.recorder.AgentCompleted(o.runID, agentName, result.Metrics, result.Evidence); err != nil {
			o.logger.Warn("failed to record agent completion",
				"runId", o.runID,
				"agent", agentName,
				"error", err,
			)
		}
	}
	o.logger.Info("agent completed",
		"runId", o.runID,
		"agent", agentName,
		"durationMs", result.Metrics.DurationMS,
	)
}

// noteLaneFailure remembers the first lane that failed a parallel phase so
// the terminal state can name it.
func (o *Orchestrator) noteLaneFailure(lane string) {
	o.mu.Lock()
	if o.failedLane == "" {
		o.failedLane = lane
	}
	o.mu.Unlock()
}

// fail freezes the state as failed, naming the responsible phase or lane.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return
	}

	failed := o.failedLane
	kind := model.KindOf(err)
	if kind == model.ErrKindCancelled || kind == model.ErrKindTerminated {
		// Cancellation names the phase that was active, not whichever
		// lane happened to observe the cancelled context first. The
		// operator-provided reason wins over the raw context error.
		failed = o.state.CurrentAgent
		if o.cancelRequested {
			if o.terminated {
				kind = model.ErrKindTerminated
			}
			err = model.NewClassifiedError(kind, "%s", o.cancelCause)
		}
	}
	if failed == "" {
		failed = o.state.CurrentAgent
	}
	if failed == "" {
		failed = o.state.CurrentPhase
	}

	o.state.Status = model.StatusFailed
	o.state.FailedAgent = failed
	o.state.Error = err.Error()

	o.logger.Error("pipeline run failed",
		"runId", o.runID,
		"failedAgent", failed,
		"kind", kind,
		"error", err,
	)
}

// complete freezes the state as completed and computes the run summary.
func (o *Orchestrator) complete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return
	}

	summary := &model.RunSummary{
		TotalDurationMS: o.now().Sub(o.state.StartTime).Milliseconds(),
		AgentCount:      len(o.state.AgentMetrics),
	}
	for _, m := range o.state.AgentMetrics {
		if m.CostUSD != nil {
			summary.TotalCostUSD += *m.CostUSD
		}
		if m.Turns != nil {
			summary.TotalTurns += *m.Turns
		}
	}

	o.state.Status = model.StatusCompleted
	o.state.CurrentPhase = ""
	o.state.CurrentAgent = ""
	o.state.Summary = summary

	o.logger.Info("pipeline run completed",
		"runId", o.runID,
		"agents", summary.AgentCount,
		"totalCostUsd", summary.TotalCostUSD,
		"totalDurationMs", summary.TotalDurationMS,
	)
}
