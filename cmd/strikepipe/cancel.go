package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strikepipe/strikepipe/internal/config"
)

// NewCancelCmd creates the cancel command.
func NewCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cooperative cancellation of a run",
		Long: `Cancel asks a run hosted by "strikepipe serve" to stop at its next phase
boundary. In-flight agents are signalled to stop; work that completed before
the request keeps its metrics and evidence.

Examples:
  strikepipe cancel 3f2a...
  strikepipe cancel --address 127.0.0.1:9000 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: runCancelCmd,
	}

	cmd.Flags().String("address", config.DefaultListenAddress,
		"Address of the strikepipe serve API")

	return cmd
}

// runCancelCmd executes the cancel command.
func runCancelCmd(cmd *cobra.Command, args []string) error {
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return err
	}

	if err := postRunAction(cmd.Context(), address, args[0], "cancel", nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested: %s\n", args[0])
	return nil
}

// apiError is the JSON error body returned by the serve API.
type apiError struct {
	Error string `json:"error"`
}

// postRunAction posts a run lifecycle action to the serve API.
func postRunAction(ctx context.Context, address, runID, action string, body any) error {
	url := fmt.Sprintf("%s/api/runs/%s/%s", apiBaseURL(address), runID, action)

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach serve API at %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("serve API: %s", apiErr.Error)
		}
		return fmt.Errorf("serve API returned %s", resp.Status)
	}
	return nil
}

// apiBaseURL normalizes a listen address into a base URL.
func apiBaseURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return strings.TrimSuffix(address, "/")
	}
	return "http://" + address
}
