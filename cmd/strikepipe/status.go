package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/bridge"
	"github.com/strikepipe/strikepipe/internal/config"
	"github.com/strikepipe/strikepipe/internal/database"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the progress of a run",
		Long: `Status renders the progress record of a run: current phase, completed
agents, per-agent metrics, accumulated cost, and the terminal summary when
the run has finished.

Examples:
  # Markdown progress record (default)
  strikepipe status 3f2a...

  # JSON for tool integration
  strikepipe status --json 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: runStatusCmd,
	}

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON record (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown record (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the record to the specified file path")
	cmd.Flags().String("db-dir", "",
		"Run database directory (default: XDG data directory)")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig()

	var err error
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

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer db.Close()

	b := bridge.New(db, bridge.WithLogger(setupLogger(getVerboseFlag(cmd))))
	progress, err := b.QueryProgress(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return outputProgress(cfg, &progress)
}
