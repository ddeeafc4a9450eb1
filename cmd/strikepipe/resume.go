package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/bridge"
	"github.com/strikepipe/strikepipe/internal/config"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/model"
)

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume an interrupted run",
		Long: `Resume continues a run that was left open by a crashed or killed process.

Completed agents are replayed from the durable event log, so finished work
is never re-executed; the pipeline continues from the first agent without a
recorded completion.

Examples:
  # Resume with the default agent command
  strikepipe resume 3f2a...

  # Resume without an agent runtime
  strikepipe resume --dry-run 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: runResumeCmd,
	}

	cmd.Flags().StringP("agent-command", "a", config.DefaultAgentCommand,
		"Agent-runner binary executed once per phase")
	cmd.Flags().StringArray("agent-arg", nil,
		"Extra argument passed to the agent command (repeatable)")
	cmd.Flags().Bool("dry-run", false,
		"Replace agent execution with simulated results")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON record (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown record (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the run record to the specified file path")
	cmd.Flags().String("db-dir", "",
		"Run database directory (default: XDG data directory)")

	return cmd
}

// runResumeCmd executes the resume command.
func runResumeCmd(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig()

	var err error
	cfg.AgentCommand, err = cmd.Flags().GetString("agent-command")
	if err != nil {
		return err
	}
	cfg.AgentArgs, err = cmd.Flags().GetStringArray("agent-arg")
	if err != nil {
		return err
	}
	cfg.DryRun, err = cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	cfg.JSONOutput, err = cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	cfg.MarkdownOutput, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	cfg.OutputFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if err := applyDBDirFlag(cmd, cfg); err != nil {
		return err
	}
	if cfg.JSONOutput && cfg.MarkdownOutput {
		return config.ErrConflictingOutputFormats
	}
	if !cfg.DryRun && cfg.AgentCommand == "" {
		return config.ErrNoAgentCommand
	}

	logger := setupLogger(getVerboseFlag(cmd))

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer db.Close()

	b := bridge.New(db,
		bridge.WithLogger(logger),
		bridge.WithExecutor(buildExecutor(cfg)),
	)

	runID := args[0]
	if err := b.Resume(cmd.Context(), runID); err != nil {
		return fmt.Errorf("failed to resume run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run resumed: %s\n", runID)

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
