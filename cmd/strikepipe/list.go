package main

import (
	"fmt"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/bridge"
	"github.com/strikepipe/strikepipe/internal/config"
	"github.com/strikepipe/strikepipe/internal/database"
	"github.com/strikepipe/strikepipe/internal/model"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Long: `List shows recent runs, newest first, with their status and timing.

Examples:
  # The ten most recent runs
  strikepipe list

  # Only runs still executing
  strikepipe list --status Running

  # The last fifty runs
  strikepipe list --limit 50`,
		Args: cobra.NoArgs,
		RunE: runListCmd,
	}

	cmd.Flags().StringP("status", "s", "",
		"Filter by status (Running, Completed, Failed, Terminated, Cancelled)")
	cmd.Flags().IntP("limit", "l", config.DefaultListLimit,
		"Maximum number of runs to show")
	cmd.Flags().String("db-dir", "",
		"Run database directory (default: XDG data directory)")

	return cmd
}

// runListCmd executes the list command.
func runListCmd(cmd *cobra.Command, _ []string) error {
	statusFilter, err := cmd.Flags().GetString("status")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	cfg := config.NewConfig()
	cfg.Limit = limit
	if err := applyDBDirFlag(cmd, cfg); err != nil {
		return err
	}
	if cfg.Limit < 0 {
		return config.ErrInvalidLimit
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer db.Close()

	b := bridge.New(db, bridge.WithLogger(setupLogger(getVerboseFlag(cmd))))
	infos, err := b.List(cmd.Context(), model.WorkflowStatus(statusFilter), cfg.Limit)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		closeTime := "-"
		if info.CloseTime != nil {
			closeTime = info.CloseTime.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			info.RunID,
			string(info.Status),
			info.StartTime.Format("2006-01-02 15:04:05"),
			closeTime,
			info.SecondaryID,
		})
	}

	md := markdown.NewMarkdown(cmd.OutOrStdout())
	md.Table(markdown.TableSet{
		Header: []string{"Run", "Status", "Started", "Closed", "Scan"},
		Rows:   rows,
	})
	md.PlainTextf("%d run(s)", len(infos))
	return md.Build()
}
