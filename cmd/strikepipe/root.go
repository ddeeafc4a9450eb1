// Package main provides the entry point for the strikepipe CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for strikepipe.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strikepipe",
		Short: "Multi-agent security assessment pipeline",
		Long: `strikepipe runs automated security assessments of web applications.

A run moves through reconnaissance, five parallel vulnerability-analysis
lanes, five parallel exploitation lanes, and report assembly. Progress is
recorded in a local SQLite database so interrupted runs can be inspected
and resumed.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewCancelCmd())
	cmd.AddCommand(NewTerminateCmd())
	cmd.AddCommand(NewResumeCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
