package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "strikepipe"

	// DefaultAgentCommand is the agent-runner binary invoked for each phase
	// when no explicit command is configured. It is resolved via PATH.
	DefaultAgentCommand = "strikepipe-agent"

	// DefaultListenAddress is the bind address of the control-plane HTTP
	// API. Loopback by default: the API can start and stop assessments, so
	// exposing it beyond the host is an explicit operator decision.
	DefaultListenAddress = "127.0.0.1:8470"

	// DefaultTaskQueue is the logical queue name stamped on runs.
	DefaultTaskQueue = "security-assessment"

	// DefaultListLimit bounds the number of runs returned by list queries.
	DefaultListLimit = 10
)

// Config holds all configuration options for the strikepipe CLI.
// This struct is designed to be populated from CLI flags and passed through
// the application via dependency injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., RunConfig, ServeConfig) for simplicity. The number of options is
// manageable, and nesting would add complexity without significant benefit.
type Config struct {
	// WebURL is the target web application URL. Required for run.
	WebURL string

	// RepoPath is the path to the target's source repository, if available.
	// Agents use it for code-assisted analysis.
	RepoPath string

	// AgentCommand is the agent-runner binary executed once per phase.
	AgentCommand string

	// AgentArgs are extra arguments passed to the agent command before the
	// environment-driven phase parameters.
	AgentArgs []string

	// DryRun replaces agent execution with deterministic simulated results.
	// Useful for exercising the pipeline without an agent runtime.
	DryRun bool

	// TestingMode selects the fast-iteration retry profile for the run.
	TestingMode bool

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only info and above are logged.
	Verbose bool

	// JSONOutput renders progress and results as JSON.
	// Mutually exclusive with MarkdownOutput.
	JSONOutput bool

	// MarkdownOutput renders progress and results as Markdown.
	// Mutually exclusive with JSONOutput.
	MarkdownOutput bool

	// OutputFile is the output file path for run results.
	// When set, the rendered record is written to this file instead of stdout.
	OutputFile string

	// ConfigFilePath is the path to the per-target configuration file.
	// If empty, the tool searches for .strikepipe in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// TargetConfigs holds per-target configurations loaded from the config
	// file. Populated by LoadConfigFile.
	TargetConfigs *File

	// ScanID is an optional caller-supplied scan correlation identifier.
	ScanID string

	// OrganizationID is an optional organization correlation identifier.
	OrganizationID string

	// RunID is an optional caller-supplied run identifier. Generated when
	// empty.
	RunID string

	// TaskQueue is the logical queue name stamped on runs.
	TaskQueue string

	// DBDir is the directory path for storing the SQLite run database.
	// Defaults to the XDG data directory (~/.local/share/strikepipe on Linux).
	DBDir string

	// ListenAddress is the bind address of the serve command's HTTP API.
	ListenAddress string

	// Limit bounds list queries.
	Limit int
}

// NewConfig creates a new Config with default values.
// All fields are set to safe, sensible defaults that work for most use cases.
// Users can override specific values after creation.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero. This also serves as
// documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		AgentCommand:  DefaultAgentCommand,
		TaskQueue:     DefaultTaskQueue,
		DBDir:         XDGDataDir(),
		ListenAddress: DefaultListenAddress,
		Limit:         DefaultListLimit,
	}
}

// XDGDataDir returns the XDG data directory for strikepipe.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.local/share/strikepipe
// On macOS: ~/Library/Application Support/strikepipe
// On Windows: %LOCALAPPDATA%\strikepipe
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for strikepipe.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid for starting a run.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// We return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if c.WebURL == "" {
		return ErrNoTarget
	}
	if !c.DryRun && c.AgentCommand == "" {
		return ErrNoAgentCommand
	}
	if c.JSONOutput && c.MarkdownOutput {
		return ErrConflictingOutputFormats
	}
	if c.Limit < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// ValidateServe checks the configuration for the serve command, which has
// no target of its own.
func (c *Config) ValidateServe() error {
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	return nil
}
