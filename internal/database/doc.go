// Package database provides SQLite-based storage for pipeline runs.
//
// Two tables back the durability guarantees: runs holds one row per
// submission (input, lifecycle status, latest state snapshot), and
// run_events is an append-only log of agent completions. After a crash the
// event log is replayed to rebuild the completed-agent set, so a resumed run
// skips work that already finished.
package database
