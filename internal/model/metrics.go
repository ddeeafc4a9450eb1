package model

// AgentMetrics is the result of one completed phase or lane. It is produced
// exactly once per successful phase and is immutable thereafter.
//
// Token counts, cost, and turn count are pointers because not every phase is
// an LLM invocation; the deterministic report-assembly step, for example,
// produces no token usage at all. A nil pointer means "unavailable", which is
// distinct from zero.
type AgentMetrics struct {
	// DurationMS is the wall-clock duration of the phase in milliseconds.
	DurationMS int64 `json:"durationMs"`

	// InputTokens is the number of prompt tokens consumed, or nil when the
	// phase did not invoke a language model.
	InputTokens *int64 `json:"inputTokens,omitempty"`

	// OutputTokens is the number of completion tokens produced, or nil.
	OutputTokens *int64 `json:"outputTokens,omitempty"`

	// CostUSD is the provider cost of the phase in US dollars, or nil.
	CostUSD *float64 `json:"costUsd,omitempty"`

	// Turns is the number of agent conversation turns, or nil.
	Turns *int `json:"turns,omitempty"`

	// Model identifies the model that executed the phase, when known.
	Model string `json:"model,omitempty"`
}

// RunSummary is the rolled-up view of a run, computed only at terminal
// success. It folds every recorded AgentMetrics into run totals.
type RunSummary struct {
	// TotalCostUSD is the sum of all non-nil per-agent costs.
	TotalCostUSD float64 `json:"totalCostUsd"`

	// TotalDurationMS is the wall-clock duration of the whole run.
	TotalDurationMS int64 `json:"totalDurationMs"`

	// TotalTurns is the sum of all non-nil per-agent turn counts.
	TotalTurns int `json:"totalTurns"`

	// AgentCount is the number of agents that recorded metrics.
	AgentCount int `json:"agentCount"`
}
