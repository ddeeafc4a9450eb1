// Package model defines the core data structures used throughout strikepipe.
//
// This package contains the following main types:
//   - PipelineInput: Immutable submission record describing one assessment run
//   - AgentMetrics: The result metrics of one completed phase or lane
//   - PipelineState: The orchestrator-owned mutable state of a run
//   - PipelineProgress: A derived, read-only projection of PipelineState
//   - ClassifiedError: The error taxonomy driving retry decisions
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. Multiple packages (orchestrator, activity, bridge, report) need
// to use these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for progress output and
// database storage.
package model
