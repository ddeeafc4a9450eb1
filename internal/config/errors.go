package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoTarget is returned when no target web URL is specified.
	ErrNoTarget = errors.New("no target specified: provide a target web URL")

	// ErrNoAgentCommand is returned when no agent command is configured and
	// dry-run mode is off. The pipeline cannot execute phases without one.
	ErrNoAgentCommand = errors.New("no agent command configured: set --agent-command or use --dry-run")

	// ErrConflictingOutputFormats is returned when both --json and
	// --markdown are specified. Only one output format can be used at a time.
	ErrConflictingOutputFormats = errors.New("conflicting output formats: --json and --markdown cannot be used together")

	// ErrInvalidListenAddress is returned when the serve listen address is
	// empty.
	ErrInvalidListenAddress = errors.New("invalid listen address: must not be empty")

	// ErrInvalidLimit is returned when a list limit is negative.
	ErrInvalidLimit = errors.New("invalid limit: must be non-negative")
)
