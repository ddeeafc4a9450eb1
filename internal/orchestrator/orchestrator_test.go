package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strikepipe/strikepipe/internal/activity"
	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/retry"
)

// funcExecutor adapts a function to the agent.Executor interface.
type funcExecutor struct {
	fn func(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Execute implements agent.Executor.
func (f *funcExecutor) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	return f.fn(ctx, req)
}

// traceExecutor records start and end events per agent for ordering checks.
type traceExecutor struct {
	mu     sync.Mutex
	events []string
	inner  agent.Executor
}

// Execute implements agent.Executor.
func (t *traceExecutor) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	t.mu.Lock()
	t.events = append(t.events, "start:"+req.Agent)
	t.mu.Unlock()

	result, err := t.inner.Execute(ctx, req)

	t.mu.Lock()
	t.events = append(t.events, "end:"+req.Agent)
	t.mu.Unlock()
	return result, err
}

// snapshot returns a copy of the recorded events.
func (t *traceExecutor) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

// memoryRecorder collects completion events in memory.
type memoryRecorder struct {
	mu     sync.Mutex
	agents []string
}

// AgentCompleted implements Recorder.
func (m *memoryRecorder) AgentCompleted(_ string, agentName string, _ model.AgentMetrics, _ string) error {
	m.mu.Lock()
	m.agents = append(m.agents, agentName)
	m.mu.Unlock()
	return nil
}

// testInput returns a submission matching the fast-iteration scenario.
func testInput() model.PipelineInput {
	return model.PipelineInput{
		WebURL:      "https://example.com",
		RepoPath:    "/repos/demo",
		TestingMode: true,
	}
}

// newTestGateway builds a gateway with the testing profile and no real
// backoff sleeping.
func newTestGateway(executor agent.Executor) *activity.Gateway {
	return activity.New(retry.Testing(), executor,
		activity.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
}

// indexOf returns the position of s in list, or -1.
func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// TestOrchestratorRunSuccess tests the all-phases-succeed scenario.
func TestOrchestratorRunSuccess(t *testing.T) {
	t.Parallel()

	recorder := &memoryRecorder{}
	o := New("run-success", testInput(), newTestGateway(agent.NewSimulatedExecutor()),
		WithRecorder(recorder),
	)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := o.Snapshot()

	t.Run("terminal state is completed", func(t *testing.T) {
		if state.Status != model.StatusCompleted {
			t.Errorf("expected status completed, got %q", state.Status)
		}
		if state.CurrentPhase != "" || state.CurrentAgent != "" {
			t.Errorf("expected phase markers cleared, got %q/%q", state.CurrentPhase, state.CurrentAgent)
		}
	})

	t.Run("every agent completed exactly once", func(t *testing.T) {
		want := AgentNames()
		if len(state.CompletedAgents) != len(want) {
			t.Fatalf("expected %d completed agents, got %d: %v", len(want), len(state.CompletedAgents), state.CompletedAgents)
		}
		seen := make(map[string]bool)
		for _, name := range state.CompletedAgents {
			if seen[name] {
				t.Errorf("agent %q completed twice", name)
			}
			seen[name] = true
		}
		for _, name := range want {
			if !seen[name] {
				t.Errorf("agent %q missing from completed list", name)
			}
		}
		if len(state.AgentMetrics) != len(want) {
			t.Errorf("expected metrics for %d agents, got %d", len(want), len(state.AgentMetrics))
		}
	})

	t.Run("phase ordering holds", func(t *testing.T) {
		completed := state.CompletedAgents
		if indexOf(completed, PhasePreRecon) >= indexOf(completed, PhaseRecon) {
			t.Error("expected pre-recon before recon")
		}
		lastAnalysis, firstExploit := -1, len(completed)
		for _, lane := range AnalysisLanes() {
			if i := indexOf(completed, lane); i > lastAnalysis {
				lastAnalysis = i
			}
		}
		for _, lane := range ExploitationLanes() {
			if i := indexOf(completed, lane); i >= 0 && i < firstExploit {
				firstExploit = i
			}
		}
		if lastAnalysis >= firstExploit {
			t.Errorf("expected all analysis lanes before exploitation lanes: %v", completed)
		}
		if completed[len(completed)-1] != AgentReport {
			t.Errorf("expected report last, got %q", completed[len(completed)-1])
		}
	})

	t.Run("summary folds all agents", func(t *testing.T) {
		if state.Summary == nil {
			t.Fatal("expected non-nil summary")
		}
		if state.Summary.AgentCount != len(AgentNames()) {
			t.Errorf("expected agentCount %d, got %d", len(AgentNames()), state.Summary.AgentCount)
		}
		if state.Summary.TotalCostUSD <= 0 {
			t.Errorf("expected positive total cost, got %f", state.Summary.TotalCostUSD)
		}
	})

	t.Run("recorder saw every completion", func(t *testing.T) {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		if len(recorder.agents) != len(AgentNames()) {
			t.Errorf("expected %d recorded events, got %d", len(AgentNames()), len(recorder.agents))
		}
	})
}

// TestOrchestratorFanInBarrier tests that no exploitation lane starts before
// every analysis lane has finished.
func TestOrchestratorFanInBarrier(t *testing.T) {
	t.Parallel()

	trace := &traceExecutor{inner: &agent.SimulatedExecutor{Delay: 5 * time.Millisecond, Model: "simulated"}}
	o := New("run-barrier", testInput(), newTestGateway(trace))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := trace.snapshot()
	lastAnalysisEnd := -1
	for _, lane := range AnalysisLanes() {
		if i := indexOf(events, "end:"+lane); i > lastAnalysisEnd {
			lastAnalysisEnd = i
		}
	}
	for _, lane := range ExploitationLanes() {
		if i := indexOf(events, "start:"+lane); i >= 0 && i < lastAnalysisEnd {
			t.Errorf("exploitation lane %q started before analysis finished (event %d < %d)", lane, i, lastAnalysisEnd)
		}
	}
}

// TestOrchestratorLaneFailure tests that one failing lane fails the run and
// cancels its siblings.
func TestOrchestratorLaneFailure(t *testing.T) {
	t.Parallel()

	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Agent == "xss-analysis" {
				return nil, model.NewClassifiedError(model.ErrKindConfiguration, "missing scanner binary")
			}
			if strings.HasSuffix(req.Agent, "-analysis") {
				// Sibling lanes block until the group context is cancelled.
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return simulated.Execute(ctx, req)
		},
	}
	o := New("run-lane-failure", testInput(), newTestGateway(executor))

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := model.KindOf(err); kind != model.ErrKindConfiguration {
		t.Errorf("expected kind configuration, got %q", kind)
	}

	state := o.Snapshot()
	if state.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %q", state.Status)
	}
	if state.FailedAgent != "xss-analysis" {
		t.Errorf("expected failedAgent xss-analysis, got %q", state.FailedAgent)
	}
	if !strings.Contains(state.Error, "missing scanner binary") {
		t.Errorf("expected error message to be recorded, got %q", state.Error)
	}
	for _, lane := range ExploitationLanes() {
		if indexOf(state.CompletedAgents, lane) >= 0 {
			t.Errorf("exploitation lane %q ran despite analysis failure", lane)
		}
	}
	// Diagnosis markers stay at their last values.
	if state.CurrentPhase != PhaseVulnerabilityAnalysis {
		t.Errorf("expected currentPhase %q for diagnosis, got %q", PhaseVulnerabilityAnalysis, state.CurrentPhase)
	}
}

// TestOrchestratorCooperativeCancel tests that a cancel request surfaces at
// the next phase boundary, naming the phase that was active.
func TestOrchestratorCooperativeCancel(t *testing.T) {
	t.Parallel()

	var o *Orchestrator
	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Agent == PhaseRecon {
				// The request lands while recon is in flight; the simulated
				// executor ignores the signal, so recon still finishes and
				// its result is kept.
				o.RequestCancel("operator requested stop")
			}
			return simulated.Execute(ctx, req)
		},
	}
	o = New("run-cancel", testInput(), newTestGateway(executor))

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := model.KindOf(err); kind != model.ErrKindCancelled {
		t.Errorf("expected kind cancelled, got %q", kind)
	}

	state := o.Snapshot()
	if state.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %q", state.Status)
	}
	if state.FailedAgent != PhaseRecon {
		t.Errorf("expected failedAgent %q, got %q", PhaseRecon, state.FailedAgent)
	}
	if indexOf(state.CompletedAgents, PhaseRecon) < 0 {
		t.Error("expected in-flight recon to finish before the cancel took effect")
	}
	if !o.CancelRequested() {
		t.Error("expected CancelRequested to report true")
	}
	if o.Terminated() {
		t.Error("cooperative cancel must not report as terminated")
	}
}

// TestOrchestratorCancelSignalsInFlightWork tests that a cancel request
// reaches blocked activities through their contexts instead of waiting for
// them to return on their own.
func TestOrchestratorCancelSignalsInFlightWork(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	var once sync.Once
	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Phase == PhaseVulnerabilityAnalysis {
				once.Do(func() { close(reached) })
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return simulated.Execute(ctx, req)
		},
	}
	o := New("run-cancel-inflight", testInput(), newTestGateway(executor))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	<-reached
	o.RequestCancel("operator requested stop")

	select {
	case err := <-done:
		if kind := model.KindOf(err); kind != model.ErrKindCancelled {
			t.Errorf("expected kind cancelled, got %q (%v)", kind, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked activities never saw the cancel request")
	}

	state := o.Snapshot()
	if state.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %q", state.Status)
	}
	if state.FailedAgent != PhaseVulnerabilityAnalysis {
		t.Errorf("expected failedAgent %q, got %q", PhaseVulnerabilityAnalysis, state.FailedAgent)
	}
	if !strings.Contains(state.Error, "operator requested stop") {
		t.Errorf("expected cancel reason in error, got %q", state.Error)
	}
	if o.Terminated() {
		t.Error("cancel must not report as terminated")
	}
}

// TestOrchestratorCancelDuringRetryBackoff tests that a cancel request
// interrupts a backoff sleep between attempts and ends the run with the
// cancellation reason, not the transient error that triggered the retry.
func TestOrchestratorCancelDuringRetryBackoff(t *testing.T) {
	t.Parallel()

	sleeping := make(chan struct{})
	var once sync.Once
	simulated := agent.NewSimulatedExecutor()
	gateway := activity.New(retry.Testing(), &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Agent == PhaseRecon {
				return nil, model.NewClassifiedError(model.ErrKindTransient, "upstream flake")
			}
			return simulated.Execute(ctx, req)
		},
	}, activity.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(sleeping) })
		<-ctx.Done()
		return ctx.Err()
	}))
	o := New("run-cancel-backoff", testInput(), gateway)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	<-sleeping
	o.RequestCancel("operator requested stop")

	select {
	case err := <-done:
		if kind := model.KindOf(err); kind != model.ErrKindCancelled {
			t.Errorf("expected kind cancelled, got %q (%v)", kind, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not interrupt the retry backoff")
	}

	state := o.Snapshot()
	if state.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %q", state.Status)
	}
	if state.FailedAgent != PhaseRecon {
		t.Errorf("expected failedAgent %q, got %q", PhaseRecon, state.FailedAgent)
	}
	if !strings.Contains(state.Error, "operator requested stop") {
		t.Errorf("expected cancel reason in error, got %q", state.Error)
	}
	if strings.Contains(state.Error, "upstream flake") {
		t.Errorf("transient attempt error leaked into the terminal state: %q", state.Error)
	}
}

// TestOrchestratorTerminate tests forced termination mid-exploitation.
func TestOrchestratorTerminate(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	var once sync.Once
	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Phase == PhaseExploitation {
				once.Do(func() { close(reached) })
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return simulated.Execute(ctx, req)
		},
	}
	o := New("run-terminate", testInput(), newTestGateway(executor))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	<-reached
	o.Terminate("credentials revoked")

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
		if kind := model.KindOf(err); kind != model.ErrKindCancelled && kind != model.ErrKindTerminated {
			t.Errorf("expected cancellation kind, got %q", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after terminate")
	}

	state := o.Snapshot()
	if state.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %q", state.Status)
	}
	if state.FailedAgent != PhaseExploitation {
		t.Errorf("expected failedAgent %q, got %q", PhaseExploitation, state.FailedAgent)
	}
	if state.CurrentPhase != PhaseExploitation {
		t.Errorf("expected currentPhase %q for diagnosis, got %q", PhaseExploitation, state.CurrentPhase)
	}
	if !o.Terminated() {
		t.Error("expected Terminated to report true")
	}
}

// TestOrchestratorTerminalImmutability tests that nothing mutates a
// terminal state.
func TestOrchestratorTerminalImmutability(t *testing.T) {
	t.Parallel()

	o := New("run-frozen", testInput(), newTestGateway(agent.NewSimulatedExecutor()))
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := o.Snapshot()

	o.RequestCancel("too late")
	o.Terminate("still too late")

	after := o.Snapshot()
	if after.Status != model.StatusCompleted {
		t.Errorf("terminal status changed to %q", after.Status)
	}
	if len(after.CompletedAgents) != len(before.CompletedAgents) {
		t.Error("completed agents changed after terminal state")
	}
	if after.Summary == nil || *after.Summary != *before.Summary {
		t.Error("summary changed after terminal state")
	}
	if o.CancelRequested() {
		t.Error("cancel request after terminal state must be ignored")
	}
}

// TestOrchestratorReplay tests that preloaded completions are not
// re-executed on resume.
func TestOrchestratorReplay(t *testing.T) {
	t.Parallel()

	replayed := []ReplayedAgent{
		{Name: PhasePreRecon, Metrics: model.AgentMetrics{DurationMS: 10}},
		{Name: PhaseRecon, Metrics: model.AgentMetrics{DurationMS: 20}},
	}
	for _, lane := range AnalysisLanes() {
		replayed = append(replayed, ReplayedAgent{Name: lane, Metrics: model.AgentMetrics{DurationMS: 30}})
	}

	var mu sync.Mutex
	executed := make(map[string]int)
	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			mu.Lock()
			executed[req.Agent]++
			mu.Unlock()
			return simulated.Execute(ctx, req)
		},
	}

	start := time.Now().Add(-time.Hour)
	o := New("run-resume", testInput(), newTestGateway(executor),
		WithReplay(replayed),
		WithStartTime(start),
	)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, r := range replayed {
		if executed[r.Name] != 0 {
			t.Errorf("replayed agent %q was re-executed %d times", r.Name, executed[r.Name])
		}
	}
	wantExecuted := len(ExploitationLanes()) + 1
	if len(executed) != wantExecuted {
		t.Errorf("expected %d executed agents, got %d: %v", wantExecuted, len(executed), executed)
	}

	state := o.Snapshot()
	if len(state.CompletedAgents) != len(AgentNames()) {
		t.Errorf("expected full completion list after resume, got %d", len(state.CompletedAgents))
	}
	if !state.StartTime.Equal(start) {
		t.Errorf("expected original start time to be preserved, got %v", state.StartTime)
	}
	if state.Summary == nil || state.Summary.TotalDurationMS < time.Hour.Milliseconds() {
		t.Error("expected summary duration measured from original submission")
	}
}

// TestOrchestratorDraft tests that the reporting agent receives the
// assembled exploitation evidence.
func TestOrchestratorDraft(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var draft string
	simulated := agent.NewSimulatedExecutor()
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			if req.Agent == AgentReport {
				mu.Lock()
				draft = req.Draft
				mu.Unlock()
				return simulated.Execute(ctx, req)
			}
			if req.Phase == PhaseExploitation {
				return &agent.Result{
					Metrics:  model.AgentMetrics{DurationMS: 5},
					Evidence: "evidence from " + req.Agent,
				}, nil
			}
			return simulated.Execute(ctx, req)
		},
	}
	o := New("run-draft", testInput(), newTestGateway(executor))

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if draft == "" {
		t.Fatal("expected non-empty draft for reporting agent")
	}
	for _, lane := range ExploitationLanes() {
		if !strings.Contains(draft, "evidence from "+lane) {
			t.Errorf("draft missing evidence for %q", lane)
		}
	}
	if !strings.Contains(draft, "https://example.com") {
		t.Error("draft missing target URL")
	}
}

// TestQueryService tests the progress projection.
func TestQueryService(t *testing.T) {
	t.Parallel()

	o := New("run-query", testInput(), newTestGateway(agent.NewSimulatedExecutor()))
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("idempotent on a non-advancing run", func(t *testing.T) {
		t.Parallel()

		q := NewQueryService()
		first := q.Query(o)
		second := q.Query(o)

		if first.RunID != "run-query" || second.RunID != "run-query" {
			t.Error("unexpected run id in projection")
		}
		if len(first.CompletedAgents) != len(second.CompletedAgents) {
			t.Error("completed agents differ between queries")
		}
		if len(first.AgentMetrics) != len(second.AgentMetrics) {
			t.Error("agent metrics differ between queries")
		}
		if first.Status != second.Status {
			t.Error("status differs between queries")
		}
	})

	t.Run("totals fold recorded metrics", func(t *testing.T) {
		t.Parallel()

		fixed := time.Now()
		q := NewQueryService(WithQueryClock(func() time.Time { return fixed }))
		progress := q.Query(o)

		if progress.TotalCostUSD <= 0 {
			t.Errorf("expected positive total cost, got %f", progress.TotalCostUSD)
		}
		if progress.TotalTurns <= 0 {
			t.Errorf("expected positive total turns, got %d", progress.TotalTurns)
		}
		if progress.ElapsedMS != fixed.Sub(progress.StartTime).Milliseconds() {
			t.Error("elapsed time not measured against injected clock")
		}
	})

	t.Run("projects stored snapshots", func(t *testing.T) {
		t.Parallel()

		q := NewQueryService()
		snapshot := o.Snapshot()
		progress := q.Project("run-query", snapshot)
		if progress.Status != model.StatusCompleted {
			t.Errorf("expected completed projection, got %q", progress.Status)
		}
		if progress.Summary == nil {
			t.Error("expected summary in projection")
		}
	})
}
