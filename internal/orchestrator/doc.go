// Package orchestrator implements the pipeline state machine that sequences
// one security-assessment run through five phases: pre-reconnaissance,
// reconnaissance, parallel vulnerability analysis, parallel exploitation,
// and reporting.
//
// One Orchestrator instance exclusively owns the mutable state of one run.
// Every state change is a single atomic update under the instance mutex, so
// the progress query service can read a consistent snapshot at any time
// without blocking execution. Once the run leaves the running status the
// state is frozen; no later event can change recorded metrics or the
// completed-agent list.
//
// Design decision: Durability is event-sourced. Each completed agent is
// appended to a recorder (the run database); on resume after a crash, the
// replayed completions are preloaded and the orchestrator skips any phase
// that already finished, so completed work is never re-executed.
package orchestrator
