// Package report assembles the draft assessment report handed to the
// reporting agent and renders finished run records for humans and machines.
//
// Draft assembly is deterministic: it concatenates the evidence collected by
// the exploitation lanes in a fixed section order, so the same run state
// always produces the same draft. The writers render a run's progress
// projection as Markdown or JSON; the Markdown path uses the nao1215/markdown
// builder for type-safe tables and GitHub-flavored alerts.
package report
