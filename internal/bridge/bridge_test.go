package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/orchestrator"
)

// funcExecutor adapts a function to the agent.Executor interface.
type funcExecutor struct {
	fn func(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Execute implements agent.Executor.
func (f *funcExecutor) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	return f.fn(ctx, req)
}

// openTestDB creates a run database in a temporary directory.
func openTestDB(t *testing.T) *database.RunDB {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})
	return db
}

// testInput returns a fast-iteration submission.
func testInput(runID string) model.PipelineInput {
	return model.PipelineInput{
		WebURL:      "https://example.com",
		RepoPath:    "/repos/demo",
		TestingMode: true,
		RunID:       runID,
		ScanID:      "scan-77",
	}
}

// waitDone blocks until the run finishes, with a test deadline.
func waitDone(t *testing.T, b *Bridge, runID string) model.PipelineProgress {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	progress, err := b.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("failed to wait for run: %v", err)
	}
	return progress
}

// TestBridgeStart tests run submission and completion.
func TestBridgeStart(t *testing.T) {
	t.Parallel()

	t.Run("runs a submission to completion", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		b := New(db)

		runID, err := b.Start(context.Background(), testInput("run-ok"))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if runID != "run-ok" {
			t.Errorf("expected caller-supplied run id, got %q", runID)
		}

		progress := waitDone(t, b, runID)
		if progress.Status != model.StatusCompleted {
			t.Errorf("expected completed run, got %q", progress.Status)
		}
		if len(progress.CompletedAgents) != len(orchestrator.AgentNames()) {
			t.Errorf("expected %d completed agents, got %d", len(orchestrator.AgentNames()), len(progress.CompletedAgents))
		}

		record, err := db.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("failed to load record: %v", err)
		}
		if record.Status != model.WorkflowCompleted {
			t.Errorf("expected stored status Completed, got %q", record.Status)
		}
		if record.CloseTime == nil {
			t.Error("expected close time to be set")
		}
	})

	t.Run("generates a run id when none is supplied", func(t *testing.T) {
		t.Parallel()

		b := New(openTestDB(t))
		runID, err := b.Start(context.Background(), testInput(""))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if len(runID) != 36 {
			t.Errorf("expected UUID run id, got %q", runID)
		}
		waitDone(t, b, runID)
	})

	t.Run("rejects a submission without a target", func(t *testing.T) {
		t.Parallel()

		b := New(openTestDB(t))
		_, err := b.Start(context.Background(), model.PipelineInput{})
		if err == nil {
			t.Fatal("expected error")
		}
		if kind := model.KindOf(err); kind != model.ErrKindInvalidRequest {
			t.Errorf("expected kind invalid_request, got %q", kind)
		}
	})

	t.Run("rejects a duplicate active run id", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		executor := &funcExecutor{
			fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return agent.NewSimulatedExecutor().Execute(ctx, req)
			},
		}
		b := New(openTestDB(t), WithExecutor(executor))

		if _, err := b.Start(context.Background(), testInput("run-dup")); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if _, err := b.Start(context.Background(), testInput("run-dup")); !errors.Is(err, ErrRunActive) {
			t.Errorf("expected ErrRunActive, got %v", err)
		}

		close(release)
		waitDone(t, b, "run-dup")
	})

	t.Run("rejects reuse of a finished run id as closed", func(t *testing.T) {
		t.Parallel()

		b := New(openTestDB(t))
		runID, err := b.Start(context.Background(), testInput("run-reuse"))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		waitDone(t, b, runID)

		_, err = b.Start(context.Background(), testInput("run-reuse"))
		if !errors.Is(err, ErrRunClosed) {
			t.Errorf("expected ErrRunClosed, got %v", err)
		}
		if err == nil || !strings.Contains(err.Error(), string(model.WorkflowCompleted)) {
			t.Errorf("expected the stored status in the error, got %v", err)
		}
	})
}

// TestBridgeQueryProgress tests the query path for live, finished, and
// unknown runs.
func TestBridgeQueryProgress(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	b := New(db)

	runID, err := b.Start(context.Background(), testInput("run-query"))
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	waitDone(t, b, runID)

	t.Run("answers finished runs from storage", func(t *testing.T) {
		progress, err := b.QueryProgress(context.Background(), runID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.Status != model.StatusCompleted {
			t.Errorf("expected completed, got %q", progress.Status)
		}
		if progress.Summary == nil {
			t.Error("expected summary for completed run")
		}
		if progress.TotalCostUSD <= 0 {
			t.Error("expected folded cost total")
		}
	})

	t.Run("unknown run is NotFound", func(t *testing.T) {
		_, err := b.QueryProgress(context.Background(), "no-such-run")
		if !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}

// TestBridgeCancelTerminate tests the two stop operations.
func TestBridgeCancelTerminate(t *testing.T) {
	t.Parallel()

	t.Run("terminate force-stops a blocked run", func(t *testing.T) {
		t.Parallel()

		reached := make(chan struct{})
		var once sync.Once
		executor := &funcExecutor{
			fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
				if req.Phase == orchestrator.PhaseExploitation {
					once.Do(func() { close(reached) })
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return agent.NewSimulatedExecutor().Execute(ctx, req)
			},
		}
		db := openTestDB(t)
		b := New(db, WithExecutor(executor))

		runID, err := b.Start(context.Background(), testInput("run-term"))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		<-reached

		if err := b.Terminate(context.Background(), runID, "credentials revoked"); err != nil {
			t.Fatalf("failed to terminate: %v", err)
		}
		progress := waitDone(t, b, runID)
		if progress.Status != model.StatusFailed {
			t.Errorf("expected failed run, got %q", progress.Status)
		}
		if !strings.Contains(progress.Error, "credentials revoked") {
			t.Errorf("expected termination reason in error, got %q", progress.Error)
		}

		record, err := db.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("failed to load record: %v", err)
		}
		if record.Status != model.WorkflowTerminated {
			t.Errorf("expected stored status Terminated, got %q", record.Status)
		}
	})

	t.Run("cancel surfaces as Cancelled", func(t *testing.T) {
		t.Parallel()

		reached := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		executor := &funcExecutor{
			fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
				if req.Agent == orchestrator.PhaseRecon {
					once.Do(func() { close(reached) })
					select {
					case <-release:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				return agent.NewSimulatedExecutor().Execute(ctx, req)
			},
		}
		db := openTestDB(t)
		b := New(db, WithExecutor(executor))

		runID, err := b.Start(context.Background(), testInput("run-cancel"))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		<-reached

		if err := b.Cancel(context.Background(), runID); err != nil {
			t.Fatalf("failed to cancel: %v", err)
		}
		close(release)

		progress := waitDone(t, b, runID)
		if progress.Status != model.StatusFailed {
			t.Errorf("expected failed run, got %q", progress.Status)
		}

		record, err := db.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("failed to load record: %v", err)
		}
		if record.Status != model.WorkflowCancelled {
			t.Errorf("expected stored status Cancelled, got %q", record.Status)
		}
	})

	t.Run("stopping a finished run fails with ErrRunClosed", func(t *testing.T) {
		t.Parallel()

		b := New(openTestDB(t))
		runID, err := b.Start(context.Background(), testInput("run-done"))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		waitDone(t, b, runID)

		if err := b.Cancel(context.Background(), runID); !errors.Is(err, ErrRunClosed) {
			t.Errorf("expected ErrRunClosed, got %v", err)
		}
		if err := b.Terminate(context.Background(), runID, ""); !errors.Is(err, ErrRunClosed) {
			t.Errorf("expected ErrRunClosed, got %v", err)
		}
	})

	t.Run("stopping an unknown run fails with ErrRunNotFound", func(t *testing.T) {
		t.Parallel()

		b := New(openTestDB(t))
		if err := b.Cancel(context.Background(), "no-such-run"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}

// TestBridgeList tests run listing.
func TestBridgeList(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	b := New(db)

	for _, runID := range []string{"list-1", "list-2", "list-3"} {
		id, err := b.Start(context.Background(), testInput(runID))
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		waitDone(t, b, id)
		// Distinct start times so the newest-first ordering is observable.
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("returns newest first with metadata", func(t *testing.T) {
		infos, err := b.List(context.Background(), "", 10)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(infos) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(infos))
		}
		if infos[0].RunID != "list-3" {
			t.Errorf("expected newest run first, got %q", infos[0].RunID)
		}
		for _, info := range infos {
			if info.Status != model.WorkflowCompleted {
				t.Errorf("expected Completed, got %q", info.Status)
			}
			if info.CloseTime == nil {
				t.Error("expected close time on finished run")
			}
			if info.TaskQueueName != DefaultTaskQueue {
				t.Errorf("expected task queue %q, got %q", DefaultTaskQueue, info.TaskQueueName)
			}
			if info.SecondaryID != "scan-77" {
				t.Errorf("expected secondary id scan-77, got %q", info.SecondaryID)
			}
		}
	})

	t.Run("filters by status", func(t *testing.T) {
		infos, err := b.List(context.Background(), model.WorkflowFailed, 10)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(infos) != 0 {
			t.Errorf("expected no failed runs, got %d", len(infos))
		}
	})

	t.Run("rejects unknown status filter", func(t *testing.T) {
		if _, err := b.List(context.Background(), "Sleeping", 10); err == nil {
			t.Error("expected error for unknown filter")
		}
	})

	t.Run("honors limit", func(t *testing.T) {
		infos, err := b.List(context.Background(), "", 2)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(infos) != 2 {
			t.Errorf("expected 2 runs, got %d", len(infos))
		}
	})
}

// TestBridgeResume tests crash recovery from the event log.
func TestBridgeResume(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	// Simulate a crashed process: the run row is open and the event log
	// holds the completions that happened before the crash.
	input := testInput("run-crashed")
	start := time.Now().UTC().Add(-30 * time.Minute)
	if err := db.InsertRun(ctx, &database.RunRecord{
		RunID:     "run-crashed",
		Status:    model.WorkflowRunning,
		TaskQueue: DefaultTaskQueue,
		StartTime: start,
		Input:     input,
		State:     *model.NewPipelineState(start),
	}); err != nil {
		t.Fatalf("failed to seed run: %v", err)
	}
	preCompleted := append([]string{orchestrator.PhasePreRecon, orchestrator.PhaseRecon}, orchestrator.AnalysisLanes()...)
	for _, name := range preCompleted {
		if err := db.AgentCompleted("run-crashed", name, model.AgentMetrics{DurationMS: 42}, ""); err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}

	var mu sync.Mutex
	executed := make(map[string]int)
	executor := &funcExecutor{
		fn: func(ctx context.Context, req agent.Request) (*agent.Result, error) {
			mu.Lock()
			executed[req.Agent]++
			mu.Unlock()
			return agent.NewSimulatedExecutor().Execute(ctx, req)
		},
	}
	b := New(db, WithExecutor(executor))

	if err := b.Resume(ctx, "run-crashed"); err != nil {
		t.Fatalf("failed to resume: %v", err)
	}
	progress := waitDone(t, b, "run-crashed")

	if progress.Status != model.StatusCompleted {
		t.Fatalf("expected completed run, got %q", progress.Status)
	}
	if len(progress.CompletedAgents) != len(orchestrator.AgentNames()) {
		t.Errorf("expected full completion list, got %d", len(progress.CompletedAgents))
	}

	mu.Lock()
	for _, name := range preCompleted {
		if executed[name] != 0 {
			t.Errorf("agent %q was re-executed after resume", name)
		}
	}
	mu.Unlock()

	t.Run("resuming a closed run fails", func(t *testing.T) {
		if err := b.Resume(ctx, "run-crashed"); !errors.Is(err, ErrRunClosed) {
			t.Errorf("expected ErrRunClosed, got %v", err)
		}
	})

	t.Run("resuming an unknown run fails", func(t *testing.T) {
		if err := b.Resume(ctx, "no-such-run"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}
