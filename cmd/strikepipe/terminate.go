package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/config"
)

// NewTerminateCmd creates the terminate command.
func NewTerminateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminate <run-id>",
		Short: "Force-stop a run immediately",
		Long: `Terminate force-stops a run hosted by "strikepipe serve" and records the
close as a termination. Use cancel instead for an orderly stop at the next
phase boundary.

Examples:
  strikepipe terminate 3f2a...
  strikepipe terminate --reason "credentials revoked" 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: runTerminateCmd,
	}

	cmd.Flags().String("address", config.DefaultListenAddress,
		"Address of the strikepipe serve API")
	cmd.Flags().StringP("reason", "r", "",
		"Reason recorded in the run's terminal error")

	return cmd
}

// terminateRequest is the JSON body of a terminate API call.
type terminateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// runTerminateCmd executes the terminate command.
func runTerminateCmd(cmd *cobra.Command, args []string) error {
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return err
	}
	reason, err := cmd.Flags().GetString("reason")
	if err != nil {
		return err
	}

	var body any
	if reason != "" {
		body = terminateRequest{Reason: reason}
	}
	if err := postRunAction(cmd.Context(), address, args[0], "terminate", body); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run terminated: %s\n", args[0])
	return nil
}
