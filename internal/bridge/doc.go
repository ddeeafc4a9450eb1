// Package bridge is the external-facing control surface of the pipeline:
// start, query, cancel, terminate, resume, and list runs.
//
// The bridge is a stateless facade in the sense that it owns no run-scoped
// state of its own: live runs are driven by their orchestrator instances in
// background goroutines, and everything else (listing, progress of finished
// runs, crash recovery) is answered from the run database. Callers such as
// the CLI and the HTTP API only ever talk to the bridge.
package bridge
