package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/bridge"
	"github.com/strikepipe/strikepipe/internal/config"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/log"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/report"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <web-url>",
		Short: "Run a security assessment against a web application",
		Long: `Run executes the full assessment pipeline against a target web application.

The pipeline moves through pre-reconnaissance, reconnaissance, five parallel
vulnerability-analysis lanes (injection, xss, auth, ssrf, authz), five
parallel exploitation lanes, and report assembly. Each phase is executed by
the configured agent command; failed phases are retried according to the
selected retry profile.

Press Ctrl-C once to cancel (in-flight agents are signalled and the run stops
at the next phase boundary), twice to terminate the run outright.

Examples:
  # Assess a target with the default agent command
  strikepipe run https://staging.example.com

  # Code-assisted assessment with the target's repository
  strikepipe run --repo ~/src/target https://staging.example.com

  # Exercise the pipeline without an agent runtime
  strikepipe run --dry-run https://staging.example.com

  # Fast-iteration retry profile and JSON output
  strikepipe run --testing --json https://staging.example.com

Configuration file (.strikepipe) example:
  defaults:
    planTier: standard
  targets:
    https://staging.example.com:
      repoPath: /repos/staging
      imagePin: sandbox:v12
      scanId: scan-42`,
		Args: cobra.ExactArgs(1),
		RunE: runRunCmd,
	}

	// Agent execution flags
	cmd.Flags().StringP("agent-command", "a", config.DefaultAgentCommand,
		"Agent-runner binary executed once per phase")
	cmd.Flags().StringArray("agent-arg", nil,
		"Extra argument passed to the agent command (repeatable)")
	cmd.Flags().Bool("dry-run", false,
		"Replace agent execution with simulated results")

	// Run behavior flags
	cmd.Flags().String("repo", "", "Path to the target's source repository")
	cmd.Flags().Bool("testing", false,
		"Use the fast-iteration retry profile")
	cmd.Flags().String("run-id", "", "Caller-supplied run identifier (generated when empty)")
	cmd.Flags().String("scan-id", "", "External scan correlation identifier")
	cmd.Flags().String("org-id", "", "Organization correlation identifier")
	cmd.Flags().String("task-queue", config.DefaultTaskQueue,
		"Logical queue name stamped on the run")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .strikepipe in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON record (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown record (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the run record to the specified file path")

	// Storage flags
	cmd.Flags().String("db-dir", "",
		"Run database directory (default: XDG data directory)")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(getVerboseFlag(cmd))
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer db.Close()

	b := bridge.New(db,
		bridge.WithLogger(logger),
		bridge.WithExecutor(buildExecutor(cfg)),
		bridge.WithTaskQueue(cfg.TaskQueue),
	)

	input := buildInput(cfg)
	runID, err := b.Start(cmd.Context(), input)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run started: %s\n", runID)

	// First signal cancels, second terminates.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("cancellation requested, stopping at the next phase boundary", "runId", runID)
		_ = b.Cancel(context.Background(), runID) //nolint:errcheck // Run may already be closed
		<-sigCh
		logger.Info("terminating run", "runId", runID)
		_ = b.Terminate(context.Background(), runID, "terminated by operator") //nolint:errcheck // Run may already be closed
	}()

	progress, err := b.Wait(context.Background(), runID)
	if err != nil {
		return fmt.Errorf("failed to wait for run: %w", err)
	}

	if err := outputProgress(cfg, &progress); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	if progress.Status == model.StatusFailed {
		return fmt.Errorf("run %s failed at %s: %s", runID, progress.FailedAgent, progress.Error)
	}
	return nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates the masking structured logger shared by all commands.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewSecureLogger(os.Stderr, verbose)
}

// buildRunConfig creates a Config from run command flags.
func buildRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.WebURL = args[0]

	var err error

	cfg.AgentCommand, err = cmd.Flags().GetString("agent-command")
	if err != nil {
		return nil, err
	}
	cfg.AgentArgs, err = cmd.Flags().GetStringArray("agent-arg")
	if err != nil {
		return nil, err
	}
	cfg.DryRun, err = cmd.Flags().GetBool("dry-run")
	if err != nil {
		return nil, err
	}
	cfg.RepoPath, err = cmd.Flags().GetString("repo")
	if err != nil {
		return nil, err
	}
	cfg.TestingMode, err = cmd.Flags().GetBool("testing")
	if err != nil {
		return nil, err
	}
	cfg.RunID, err = cmd.Flags().GetString("run-id")
	if err != nil {
		return nil, err
	}
	cfg.ScanID, err = cmd.Flags().GetString("scan-id")
	if err != nil {
		return nil, err
	}
	cfg.OrganizationID, err = cmd.Flags().GetString("org-id")
	if err != nil {
		return nil, err
	}
	cfg.TaskQueue, err = cmd.Flags().GetString("task-queue")
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg.JSONOutput, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}
	cfg.MarkdownOutput, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}
	cfg.OutputFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	if err := applyDBDirFlag(cmd, cfg); err != nil {
		return nil, err
	}

	// Load per-target configurations from the config file. An explicitly
	// specified path must exist; the default locations are optional.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath != "" {
		cfg.TargetConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		cfg.TargetConfigs = &config.File{
			Targets: make(map[string]config.TargetConfig),
		}
	}

	return cfg, nil
}

// applyDBDirFlag overrides the database directory when the flag is set.
func applyDBDirFlag(cmd *cobra.Command, cfg *config.Config) error {
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir != "" {
		cfg.DBDir = dbDir
	}
	return nil
}

// buildExecutor selects the agent executor for the run.
func buildExecutor(cfg *config.Config) agent.Executor {
	if cfg.DryRun {
		return agent.NewSimulatedExecutor()
	}
	return agent.NewCommandExecutor(cfg.AgentCommand, agent.WithArgs(cfg.AgentArgs...))
}

// buildInput assembles the submission from flags and per-target configuration.
func buildInput(cfg *config.Config) model.PipelineInput {
	input := model.PipelineInput{
		WebURL:         cfg.WebURL,
		RepoPath:       cfg.RepoPath,
		TestingMode:    cfg.TestingMode,
		RunID:          cfg.RunID,
		ScanID:         cfg.ScanID,
		OrganizationID: cfg.OrganizationID,
	}
	if cfg.TargetConfigs != nil {
		cfg.TargetConfigs.GetTargetConfig(cfg.WebURL).Apply(&input)
	}
	return input
}

// outputProgress renders a progress record in the requested format.
func outputProgress(cfg *config.Config, progress *model.PipelineProgress) error {
	var output *os.File
	if cfg.OutputFile != "" {
		dir := filepath.Dir(cfg.OutputFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Run records may embed harvested evidence; owner-only permissions.
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	} else {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		writer := report.NewJSONWriter(output, report.WithPrettyPrint())
		_, err := writer.Write(progress)
		return err
	}

	// Markdown record (default)
	writer := report.NewMarkdownWriter(output)
	_, err := writer.Write(progress)
	return err
}
