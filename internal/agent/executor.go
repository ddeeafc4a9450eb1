package agent

import (
	"context"

	"github.com/strikepipe/strikepipe/internal/model"
)

// Request describes one phase invocation handed to an Executor.
// It carries the run identifier so all side-channel audit logging performed
// by the collaborator can be joined back to one run.
type Request struct {
	// RunID is the unique run identifier for audit correlation.
	RunID string

	// Phase is the pipeline phase name (e.g. "recon").
	Phase string

	// Agent is the agent or lane name within the phase. For sequential
	// phases this equals the phase name.
	Agent string

	// Input is the immutable submission the run was started with.
	Input model.PipelineInput

	// Draft is the assembled draft report, set only for the reporting
	// agent invocation.
	Draft string

	// Heartbeat reports liveness. Executors must call it periodically
	// while work is in flight; an executor that goes silent past the
	// profile's heartbeat deadline is treated as failed.
	Heartbeat func()
}

// Result is what an Executor returns for a successful phase.
type Result struct {
	// Metrics are the typed metrics of the completed phase.
	Metrics model.AgentMetrics

	// Evidence is the phase's textual output carried forward to the
	// reporting phase (exploitation evidence, findings narrative).
	Evidence string
}

// Executor executes one phase of the pipeline. Implementations must honor
// context cancellation: the orchestrator cancels the context on run
// cancellation and on per-attempt timeout.
type Executor interface {
	// Execute runs the phase and returns its result, or an error. Errors
	// should be classified (model.ClassifiedError) so the retry policy
	// can distinguish broken configuration from a flaky provider;
	// unclassified errors are treated as transient.
	Execute(ctx context.Context, req Request) (*Result, error)
}
