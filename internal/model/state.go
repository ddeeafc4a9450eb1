package model

import "time"

// Status is the lifecycle status of a pipeline run's state machine.
type Status string

// Pipeline run statuses. A run starts as StatusRunning and terminates into
// exactly one of StatusCompleted or StatusFailed; there are no other
// transitions.
const (
	// StatusRunning means the orchestrator is actively driving phases.
	StatusRunning Status = "running"

	// StatusCompleted means all phases finished and the summary is set.
	StatusCompleted Status = "completed"

	// StatusFailed means a phase exhausted its retry budget, raised a
	// non-retryable error, or the run was cancelled.
	StatusFailed Status = "failed"
)

// PipelineState is the orchestrator-owned mutable record of one run.
//
// Ownership rules: the state is created at orchestration start, mutated only
// by the orchestrator goroutine driving phase transitions, and becomes
// immutable the instant Status leaves StatusRunning. No other component may
// write to it; readers always receive a snapshot copy (see Clone).
type PipelineState struct {
	// Status is the current lifecycle status.
	Status Status `json:"status"`

	// CurrentPhase is the phase being executed, empty between runs and
	// after terminal success.
	CurrentPhase string `json:"currentPhase,omitempty"`

	// CurrentAgent is the agent or lane being executed within the current
	// phase. For parallel phases this is the phase name itself, since no
	// single lane is "the" current agent.
	CurrentAgent string `json:"currentAgent,omitempty"`

	// CompletedAgents lists completed agent names in completion order.
	// The list is append-only. For parallel phases the order reflects
	// whichever lane finished first, not declaration order.
	CompletedAgents []string `json:"completedAgents"`

	// FailedAgent names the phase or lane that failed the run. Empty
	// unless Status is StatusFailed.
	FailedAgent string `json:"failedAgent,omitempty"`

	// Error is the failure reason as a plain message string. We keep it a
	// string rather than a structured object so the state record stays
	// serialization-stable across versions.
	Error string `json:"error,omitempty"`

	// StartTime is when the orchestrator accepted the run.
	StartTime time.Time `json:"startTime"`

	// AgentMetrics maps agent name to its metrics. Keys are unique and
	// populated only on success of the corresponding phase.
	AgentMetrics map[string]AgentMetrics `json:"agentMetrics"`

	// Summary is the rolled-up run summary, set only at terminal success.
	Summary *RunSummary `json:"summary,omitempty"`
}

// NewPipelineState creates the initial state for a run starting at the given
// time. All optional fields are empty; Status is StatusRunning.
func NewPipelineState(start time.Time) *PipelineState {
	return &PipelineState{
		Status:          StatusRunning,
		CompletedAgents: make([]string, 0),
		AgentMetrics:    make(map[string]AgentMetrics),
		StartTime:       start,
	}
}

// Clone returns a deep copy of the state. The orchestrator hands clones to
// readers so that an in-flight mutation can never be observed partially.
func (s *PipelineState) Clone() PipelineState {
	out := *s

	out.CompletedAgents = make([]string, len(s.CompletedAgents))
	copy(out.CompletedAgents, s.CompletedAgents)

	out.AgentMetrics = make(map[string]AgentMetrics, len(s.AgentMetrics))
	for name, m := range s.AgentMetrics {
		out.AgentMetrics[name] = m
	}

	if s.Summary != nil {
		summary := *s.Summary
		out.Summary = &summary
	}
	return out
}

// Terminal reports whether the state has left StatusRunning.
func (s *PipelineState) Terminal() bool {
	return s.Status != StatusRunning
}
