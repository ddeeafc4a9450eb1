package model

import "time"

// PipelineProgress is a derived, read-only projection of PipelineState plus
// the run identifier and elapsed time. It is never stored; every query
// recomputes it from a fresh state snapshot so the cost and turn totals are
// always current. Correctness over micro-optimization.
type PipelineProgress struct {
	// RunID is the unique run identifier.
	RunID string `json:"runId"`

	// Status mirrors PipelineState.Status at snapshot time.
	Status Status `json:"status"`

	// CurrentPhase mirrors PipelineState.CurrentPhase.
	CurrentPhase string `json:"currentPhase,omitempty"`

	// CurrentAgent mirrors PipelineState.CurrentAgent.
	CurrentAgent string `json:"currentAgent,omitempty"`

	// CompletedAgents mirrors PipelineState.CompletedAgents.
	CompletedAgents []string `json:"completedAgents"`

	// FailedAgent mirrors PipelineState.FailedAgent.
	FailedAgent string `json:"failedAgent,omitempty"`

	// Error mirrors PipelineState.Error.
	Error string `json:"error,omitempty"`

	// StartTime is when the run started.
	StartTime time.Time `json:"startTime"`

	// ElapsedMS is now minus StartTime at query time.
	ElapsedMS int64 `json:"elapsedMs"`

	// AgentMetrics mirrors PipelineState.AgentMetrics.
	AgentMetrics map[string]AgentMetrics `json:"agentMetrics"`

	// TotalCostUSD folds all recorded per-agent costs.
	TotalCostUSD float64 `json:"totalCostUsd"`

	// TotalTurns folds all recorded per-agent turn counts.
	TotalTurns int `json:"totalTurns"`

	// Summary is present only after terminal success.
	Summary *RunSummary `json:"summary,omitempty"`
}

// NewPipelineProgress projects a state snapshot into a progress record for
// the given run at the given instant. The snapshot must be a private copy
// (see PipelineState.Clone); the projection references its slices and maps
// directly.
func NewPipelineProgress(runID string, snapshot PipelineState, now time.Time) PipelineProgress {
	progress := PipelineProgress{
		RunID:           runID,
		Status:          snapshot.Status,
		CurrentPhase:    snapshot.CurrentPhase,
		CurrentAgent:    snapshot.CurrentAgent,
		CompletedAgents: snapshot.CompletedAgents,
		FailedAgent:     snapshot.FailedAgent,
		Error:           snapshot.Error,
		StartTime:       snapshot.StartTime,
		ElapsedMS:       now.Sub(snapshot.StartTime).Milliseconds(),
		AgentMetrics:    snapshot.AgentMetrics,
		Summary:         snapshot.Summary,
	}

	for _, m := range snapshot.AgentMetrics {
		if m.CostUSD != nil {
			progress.TotalCostUSD += *m.CostUSD
		}
		if m.Turns != nil {
			progress.TotalTurns += *m.Turns
		}
	}
	return progress
}
