package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/strikepipe/strikepipe/internal/model"
)

// SimulatedExecutor produces deterministic phase results without invoking
// any external agent. It backs the --dry-run CLI mode and most tests: the
// pipeline mechanics (ordering, fan-out, retry, progress) can be exercised
// end to end without an agent runtime installed.
type SimulatedExecutor struct {
	// Delay is an optional artificial per-phase duration.
	Delay time.Duration

	// Model is the model identifier stamped on simulated metrics.
	Model string
}

// NewSimulatedExecutor creates a SimulatedExecutor with no delay.
func NewSimulatedExecutor() *SimulatedExecutor {
	return &SimulatedExecutor{Model: "simulated"}
}

// Execute implements Executor with canned metrics. The reported token and
// cost figures scale with the agent name length only so different lanes are
// distinguishable in progress output.
func (e *SimulatedExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, model.WrapClassified(model.ErrKindTimeout, ctx.Err())
		case <-timer.C:
		}
	}
	if req.Heartbeat != nil {
		req.Heartbeat()
	}

	inputTokens := int64(1000 + 10*len(req.Agent))
	outputTokens := int64(400 + 5*len(req.Agent))
	cost := 0.01 * float64(len(req.Agent))
	turns := 3

	return &Result{
		Metrics: model.AgentMetrics{
			DurationMS:   time.Since(start).Milliseconds(),
			InputTokens:  &inputTokens,
			OutputTokens: &outputTokens,
			CostUSD:      &cost,
			Turns:        &turns,
			Model:        e.Model,
		},
		Evidence: fmt.Sprintf("Simulated evidence for %s against %s.", req.Agent, req.Input.WebURL),
	}, nil
}
