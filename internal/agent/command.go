package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/strikepipe/strikepipe/internal/model"
)

// CommandExecutor invokes an external agent command once per phase. The
// command receives the phase context through environment variables and the
// draft report (when present) on stdin, and must print a single JSON
// document on stdout describing the outcome.
//
// Output document shape:
//
//	{
//	  "metrics":  { "durationMs": ..., "inputTokens": ..., ... },
//	  "evidence": "markdown fragment carried to the reporting phase",
//	  "error":    { "kind": "configuration", "message": "..." }
//	}
//
// Either "metrics" or "error" must be present. The "kind" field maps onto
// the model.ErrorKind taxonomy; unknown kinds are treated as transient.
//
// Design decision: We use a process boundary rather than an in-process SDK
// because agent runtimes churn quickly and may not be written in Go. A JSON
// contract over exec keeps the orchestration core independent of any
// particular agent implementation.
type CommandExecutor struct {
	// command is the agent binary, resolved via PATH if not absolute.
	command string

	// args are fixed arguments prepended before the phase name.
	args []string

	// heartbeatInterval is how often the executor reports liveness while
	// the child process runs.
	heartbeatInterval time.Duration
}

// CommandOption configures a CommandExecutor.
type CommandOption func(*CommandExecutor)

// WithArgs sets fixed arguments passed before the phase name.
func WithArgs(args ...string) CommandOption {
	return func(e *CommandExecutor) {
		e.args = args
	}
}

// WithHeartbeatInterval overrides the liveness reporting interval.
// Values below one second are ignored.
func WithHeartbeatInterval(interval time.Duration) CommandOption {
	return func(e *CommandExecutor) {
		if interval >= time.Second {
			e.heartbeatInterval = interval
		}
	}
}

// NewCommandExecutor creates a CommandExecutor for the given agent command.
func NewCommandExecutor(command string, opts ...CommandOption) *CommandExecutor {
	e := &CommandExecutor{
		command:           command,
		heartbeatInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// commandOutput is the JSON document the agent command prints on stdout.
type commandOutput struct {
	Metrics  *model.AgentMetrics `json:"metrics"`
	Evidence string              `json:"evidence"`
	Error    *commandError       `json:"error"`
}

// commandError is the structured error portion of the agent output.
type commandError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Execute implements Executor by running the agent command for one phase.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if e.command == "" {
		return nil, model.NewClassifiedError(model.ErrKindConfiguration, "no agent command configured")
	}

	args := append(append([]string{}, e.args...), req.Phase)
	cmd := exec.CommandContext(ctx, e.command, args...) //nolint:gosec // Command comes from operator configuration

	cmd.Env = append(cmd.Environ(),
		"STRIKEPIPE_RUN_ID="+req.RunID,
		"STRIKEPIPE_PHASE="+req.Phase,
		"STRIKEPIPE_AGENT="+req.Agent,
		"STRIKEPIPE_WEB_URL="+req.Input.WebURL,
		"STRIKEPIPE_REPO_PATH="+req.Input.RepoPath,
		"STRIKEPIPE_SCAN_ID="+req.Input.ScanID,
		"STRIKEPIPE_ORG_ID="+req.Input.OrganizationID,
	)
	if iso := req.Input.Isolation; iso != nil {
		cmd.Env = append(cmd.Env,
			"STRIKEPIPE_PLAN_TIER="+iso.PlanTier,
			"STRIKEPIPE_IMAGE_PIN="+iso.ImagePin,
			"STRIKEPIPE_TARGET_HOST="+iso.TargetHost,
		)
	}
	if req.Draft != "" {
		cmd.Stdin = strings.NewReader(req.Draft)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		// A command that cannot even start is a configuration problem,
		// not a provider hiccup. Fail fast.
		return nil, model.WrapClassified(model.ErrKindConfiguration,
			fmt.Errorf("failed to start agent command %q: %w", e.command, err))
	}

	// Report liveness while the child runs. The child itself has no
	// heartbeat channel; a live process is our liveness signal.
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				if req.Heartbeat != nil {
					req.Heartbeat()
				}
			}
		}
	}()

	waitErr := cmd.Wait()
	close(heartbeatDone)

	if ctx.Err() != nil {
		return nil, model.WrapClassified(model.ErrKindTimeout, ctx.Err())
	}

	output, parseErr := parseCommandOutput(stdout.Bytes())
	if parseErr != nil {
		if waitErr != nil {
			// No structured output and a failed exit: surface stderr
			// as a transient failure so the retry policy applies.
			return nil, model.NewClassifiedError(model.ErrKindTransient,
				"agent command failed: %v: %s", waitErr, firstLine(stderr.String()))
		}
		return nil, model.WrapClassified(model.ErrKindInvalidRequest,
			fmt.Errorf("failed to parse agent output: %w", parseErr))
	}

	if output.Error != nil {
		return nil, model.NewClassifiedError(kindFromString(output.Error.Kind), "%s", output.Error.Message)
	}
	if output.Metrics == nil {
		return nil, model.NewClassifiedError(model.ErrKindInvalidRequest,
			"agent output contains neither metrics nor error")
	}

	return &Result{Metrics: *output.Metrics, Evidence: output.Evidence}, nil
}

// parseCommandOutput decodes the agent's stdout JSON document.
func parseCommandOutput(data []byte) (*commandOutput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty agent output")
	}

	var output commandOutput
	if err := json.Unmarshal(trimmed, &output); err != nil {
		return nil, err
	}
	return &output, nil
}

// kindFromString maps an agent-reported kind string onto the taxonomy.
// Unknown kinds degrade to transient so an agent bug never blocks retries.
func kindFromString(s string) model.ErrorKind {
	switch kind := model.ErrorKind(s); kind {
	case model.ErrKindAuthentication,
		model.ErrKindPermission,
		model.ErrKindInvalidRequest,
		model.ErrKindRequestTooLarge,
		model.ErrKindConfiguration,
		model.ErrKindInvalidTarget,
		model.ErrKindExecutionLimit,
		model.ErrKindTimeout,
		model.ErrKindHeartbeat,
		model.ErrKindTransient:
		return kind
	default:
		return model.ErrKindTransient
	}
}

// firstLine returns the first non-empty line of s for compact error messages.
func firstLine(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
