// Package retry defines the named, immutable retry policy profiles applied
// to every activity of a run.
//
// Two profiles exist: the production profile, which is patient enough to
// ride out multi-hour provider or billing outages, and the testing profile,
// which fails fast for local iteration. A profile is selected once per run
// and never per phase.
//
// Design decision: Profiles are plain value structs constructed by factory
// functions rather than loaded from configuration. The intervals encode
// operational policy that should change through code review, not through a
// config file edit on a production host.
package retry
