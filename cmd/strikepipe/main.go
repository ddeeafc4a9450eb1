// Package main provides the entry point for the strikepipe CLI.
//
// strikepipe orchestrates multi-agent security assessments of web
// applications: reconnaissance, parallel vulnerability analysis and
// exploitation lanes, and report assembly.
//
// Usage:
//
//	strikepipe run <web-url>
//	strikepipe status <run-id>
//	strikepipe serve
//
// See --help for all available options.
package main

// main is the entry point for strikepipe.
func main() {
	Execute()
}
