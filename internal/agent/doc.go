// Package agent defines the boundary to the external agent-execution
// collaborator that performs the actual assessment work of each phase.
//
// The orchestration core never constructs prompts, talks to AI providers, or
// generates deliverables; it hands a phase request to an Executor and
// receives typed metrics or a classified error back. Two implementations
// exist: CommandExecutor shells out to a configured agent binary, and
// SimulatedExecutor produces deterministic results for dry runs and tests.
package agent
